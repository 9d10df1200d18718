package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carekeeper/internal/relationship/models"
	"carekeeper/internal/relationship/store"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
)

type brokenStore struct{ store.InMemory }

func (*brokenStore) FindByPatient(context.Context, domain.UserID) (*models.Assignment, error) {
	return nil, errors.New("connection reset")
}

func TestIsAssigned(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, err := New(store.NewInMemory())
	require.NoError(t, err)

	patient, doctor, otherDoctor := domain.NewUserID(), domain.NewUserID(), domain.NewUserID()

	ok, err := svc.IsAssigned(ctx, doctor, patient)
	require.NoError(t, err)
	assert.False(t, ok, "unassigned patient")

	_, prev, err := svc.Assign(ctx, patient, doctor, now)
	require.NoError(t, err)
	assert.Nil(t, prev)

	ok, err = svc.IsAssigned(ctx, doctor, patient)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsAssigned(ctx, otherDoctor, patient)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("reassignment takes effect immediately", func(t *testing.T) {
		_, prev, err := svc.Assign(ctx, patient, otherDoctor, now.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, prev)
		assert.Equal(t, doctor, prev.DoctorID)

		ok, err := svc.IsAssigned(ctx, doctor, patient)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unassign", func(t *testing.T) {
		removed, err := svc.Unassign(ctx, patient)
		require.NoError(t, err)
		assert.Equal(t, otherDoctor, removed.DoctorID)

		_, err = svc.Unassign(ctx, patient)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestIsAssignedPropagatesStoreFailure(t *testing.T) {
	svc, err := New(&brokenStore{})
	require.NoError(t, err)

	_, err = svc.IsAssigned(context.Background(), domain.NewUserID(), domain.NewUserID())
	assert.Error(t, err)
}

func TestAssignValidation(t *testing.T) {
	svc, err := New(store.NewInMemory())
	require.NoError(t, err)
	p := domain.NewUserID()

	_, _, err = svc.Assign(context.Background(), p, p, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, _, err = svc.Assign(context.Background(), p, domain.UserID{}, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
