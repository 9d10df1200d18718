//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/audit/store/postgres"
	"carekeeper/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	base     time.Time
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), "../../../../../migrations")
	s.store = postgres.New(s.postgres.DB)
}

func (s *StoreSuite) SetupTest() {
	s.postgres.Truncate(s.T(), "audit_records")
	s.base = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *StoreSuite) record(actor, owner domain.UserID, at time.Time) audit.Record {
	return audit.Record{
		ID: domain.AuditRecordID(uuid.New()),
		Entry: audit.Entry{
			ActorID:      actor,
			ActorRole:    domain.RoleDoctor,
			Action:       audit.ActionRead,
			ResourceType: domain.ResourcePrescriptions,
			ResourceID:   domain.ResourceID(uuid.NewString()),
			OwnerID:      owner,
			Decision:     audit.OutcomeAllowed,
			Reason:       "ASSIGNED_DOCTOR",
			After:        json.RawMessage(`{"drug":"ibuprofen"}`),
			Timestamp:    at,
		},
	}
}

func (s *StoreSuite) TestAppendAssignsIncreasingSequence() {
	ctx := context.Background()
	var last int64
	for i := 0; i < 3; i++ {
		r, err := s.store.Append(ctx, s.record(domain.NewUserID(), domain.NewUserID(), s.base))
		s.Require().NoError(err)
		s.Greater(r.Sequence, last)
		last = r.Sequence
	}
}

// Justification: the audit table must reject edits even from a caller that
// bypasses the Store API.
func (s *StoreSuite) TestTableIsAppendOnly() {
	ctx := context.Background()
	r, err := s.store.Append(ctx, s.record(domain.NewUserID(), domain.NewUserID(), s.base))
	s.Require().NoError(err)

	_, err = s.postgres.DB.ExecContext(ctx, `UPDATE audit_records SET reason = 'edited' WHERE sequence = $1`, r.Sequence)
	s.Error(err)
	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM audit_records WHERE sequence = $1`, r.Sequence)
	s.Error(err)
}

func (s *StoreSuite) TestQueryFilters() {
	ctx := context.Background()
	doctor, patient := domain.NewUserID(), domain.NewUserID()
	_, err := s.store.Append(ctx, s.record(doctor, patient, s.base))
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, s.record(domain.NewUserID(), patient, s.base.Add(time.Minute)))
	s.Require().NoError(err)

	byActor, err := s.store.Query(ctx, audit.Filter{ActorID: doctor})
	s.Require().NoError(err)
	s.Require().Len(byActor, 1)
	s.JSONEq(`{"drug":"ibuprofen"}`, string(byActor[0].After))

	byOwner, err := s.store.Query(ctx, audit.Filter{OwnerID: patient})
	s.Require().NoError(err)
	s.Len(byOwner, 2)

	window, err := s.store.Query(ctx, audit.Filter{OwnerID: patient, From: s.base.Add(time.Second)})
	s.Require().NoError(err)
	s.Len(window, 1)
}

func (s *StoreSuite) TestRangePagesBySequence() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.store.Append(ctx, s.record(domain.NewUserID(), domain.NewUserID(), s.base.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
	}

	first, err := s.store.Range(ctx, s.base, s.base.Add(time.Hour), 0, 3)
	s.Require().NoError(err)
	s.Require().Len(first, 3)

	rest, err := s.store.Range(ctx, s.base, s.base.Add(time.Hour), first[2].Sequence, 3)
	s.Require().NoError(err)
	s.Len(rest, 2)
	s.Greater(rest[0].Sequence, first[2].Sequence)
}
