package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carekeeper/internal/relationship/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
	txcontext "carekeeper/pkg/platform/tx"
)

// Postgres stores assignments with patient_id as primary key, which is
// what enforces "one current doctor per patient".
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) FindByPatient(ctx context.Context, patientID domain.UserID) (*models.Assignment, error) {
	query := `SELECT doctor_id, assigned_at FROM patient_assignments WHERE patient_id = $1`
	var (
		doctorID uuid.UUID
		a        = models.Assignment{PatientID: patientID}
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(patientID)).Scan(&doctorID, &a.AssignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	a.DoctorID = domain.UserID(doctorID)
	return &a, nil
}

func (s *Postgres) Upsert(ctx context.Context, a models.Assignment) error {
	query := `
		INSERT INTO patient_assignments (patient_id, doctor_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET
			doctor_id = EXCLUDED.doctor_id,
			assigned_at = EXCLUDED.assigned_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(a.PatientID), uuid.UUID(a.DoctorID), a.AssignedAt)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, patientID domain.UserID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM patient_assignments WHERE patient_id = $1`, uuid.UUID(patientID))
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete assignment rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
