//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"carekeeper/internal/records/models"
	"carekeeper/internal/records/store"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
	"carekeeper/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), "../../../migrations")
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.postgres.Truncate(s.T(), "medical_records")
}

func newRecord(patient domain.UserID, t domain.ResourceType, content string) models.MedicalRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return models.MedicalRecord{
		ID:        domain.NewRecordID(),
		PatientID: patient,
		Type:      t,
		AuthorID:  domain.NewUserID(),
		Content:   json.RawMessage(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestRoundTripsJSONContent() {
	ctx := context.Background()
	r := newRecord(domain.NewUserID(), domain.ResourcePrescriptions, `{"drug":"amoxicillin","dose_mg":500}`)
	s.Require().NoError(s.store.Create(ctx, r))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.JSONEq(string(r.Content), string(got.Content))
	s.Equal(r.AuthorID, got.AuthorID)
	s.False(got.VisibleToPatient)
}

func (s *PostgresStoreSuite) TestListByPatientFiltersType() {
	ctx := context.Background()
	patient := domain.NewUserID()
	s.Require().NoError(s.store.Create(ctx, newRecord(patient, domain.ResourceExams, `{"panel":"cbc"}`)))
	s.Require().NoError(s.store.Create(ctx, newRecord(patient, domain.ResourceDoctorNotes, `{"text":"stable"}`)))
	s.Require().NoError(s.store.Create(ctx, newRecord(domain.NewUserID(), domain.ResourceExams, `{"panel":"lipid"}`)))

	exams, err := s.store.ListByPatient(ctx, patient, domain.ResourceExams)
	s.Require().NoError(err)
	s.Len(exams, 1)
}

func (s *PostgresStoreSuite) TestUpdateAndDeleteMissing() {
	ctx := context.Background()
	r := newRecord(domain.NewUserID(), domain.ResourceExams, `{}`)
	s.ErrorIs(s.store.Update(ctx, r), sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, r.ID), sentinel.ErrNotFound)

	s.Require().NoError(s.store.Create(ctx, r))
	r.VisibleToPatient = true
	r.Content = json.RawMessage(`{"panel":"cbc"}`)
	s.Require().NoError(s.store.Update(ctx, r))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.True(got.VisibleToPatient)
	s.JSONEq(`{"panel":"cbc"}`, string(got.Content))
}
