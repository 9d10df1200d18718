package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"carekeeper/internal/account/models"
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
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Get(ctx context.Context, userID domain.UserID) (*models.Profile, error) {
	query := `
		SELECT full_name, email, phone, national_id, anonymized_at, updated_at
		FROM account_profiles WHERE user_id = $1
	`
	var (
		p          = models.Profile{UserID: userID}
		anonymized sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)).
		Scan(&p.FullName, &p.Email, &p.Phone, &p.NationalID, &anonymized, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account profile: %w", err)
	}
	if anonymized.Valid {
		t := anonymized.Time.UTC()
		p.AnonymizedAt = &t
	}
	return &p, nil
}

func (s *Postgres) Save(ctx context.Context, p models.Profile) error {
	query := `
		INSERT INTO account_profiles (user_id, full_name, email, phone, national_id, anonymized_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			national_id = EXCLUDED.national_id,
			anonymized_at = EXCLUDED.anonymized_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(p.UserID), p.FullName, p.Email, p.Phone, p.NationalID, p.AnonymizedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save account profile: %w", err)
	}
	return nil
}
