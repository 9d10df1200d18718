package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carekeeper/internal/records/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
	txcontext "carekeeper/pkg/platform/tx"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, patient_id, record_type, author_id, visible_to_patient, content, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, r models.MedicalRecord) error {
	query := `INSERT INTO medical_records (` + recordColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID), uuid.UUID(r.PatientID), string(r.Type), uuid.UUID(r.AuthorID),
		r.VisibleToPatient, []byte(r.Content), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id domain.RecordID) (*models.MedicalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM medical_records WHERE id = $1`
	r, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find medical record: %w", err)
	}
	return &r, nil
}

func (s *Postgres) ListByPatient(ctx context.Context, patientID domain.UserID, t domain.ResourceType) ([]models.MedicalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM medical_records WHERE patient_id = $1 AND record_type = $2 ORDER BY created_at`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(patientID), string(t))
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	out := make([]models.MedicalRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medical record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medical records: %w", err)
	}
	return out, nil
}

func (s *Postgres) Update(ctx context.Context, r models.MedicalRecord) error {
	query := `UPDATE medical_records SET visible_to_patient = $2, content = $3, updated_at = $4 WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(r.ID), r.VisibleToPatient, []byte(r.Content), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update medical record: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) Delete(ctx context.Context, id domain.RecordID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM medical_records WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete medical record: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.MedicalRecord, error) {
	var (
		r                       models.MedicalRecord
		id, patientID, authorID uuid.UUID
		recordType              string
		content                 []byte
	)
	if err := row.Scan(&id, &patientID, &recordType, &authorID, &r.VisibleToPatient, &content, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return models.MedicalRecord{}, err
	}
	r.ID = domain.RecordID(id)
	r.PatientID = domain.UserID(patientID)
	r.AuthorID = domain.UserID(authorID)
	r.Type = domain.ResourceType(recordType)
	r.Content = content
	return r, nil
}
