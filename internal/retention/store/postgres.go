package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carekeeper/internal/retention/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
	txcontext "carekeeper/pkg/platform/tx"
)

// Postgres persists lifecycle rows in account_lifecycle. Update is a
// single conditional UPDATE; zero affected rows means another writer won.
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

const accountColumns = `user_id, state, last_activity_at, notified_at, scheduled_deletion_at, anonymized_at, version, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, a models.Account) error {
	query := `
		INSERT INTO account_lifecycle (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.UserID), string(a.State), a.LastActivityAt,
		a.NotifiedAt, a.ScheduledDeletionAt, a.AnonymizedAt,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account lifecycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert account lifecycle: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, userID domain.UserID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM account_lifecycle WHERE user_id = $1`
	a, err := scanAccount(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account lifecycle: %w", err)
	}
	return &a, nil
}

func (s *Postgres) Update(ctx context.Context, expectedState models.State, expectedVersion int64, next models.Account) (models.Account, error) {
	query := `
		UPDATE account_lifecycle SET
			state = $3,
			last_activity_at = $4,
			notified_at = $5,
			scheduled_deletion_at = $6,
			anonymized_at = $7,
			updated_at = $8,
			version = version + 1
		WHERE user_id = $1 AND state = $2 AND version = $9
		RETURNING ` + accountColumns
	row := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(next.UserID), string(expectedState), string(next.State),
		next.LastActivityAt, next.NotifiedAt, next.ScheduledDeletionAt, next.AnonymizedAt,
		next.UpdatedAt, expectedVersion,
	)
	stored, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, next.UserID); errors.Is(getErr, sentinel.ErrNotFound) {
			return models.Account{}, sentinel.ErrNotFound
		}
		return models.Account{}, sentinel.ErrConflict
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("update account lifecycle: %w", err)
	}
	return stored, nil
}

func (s *Postgres) ListByState(ctx context.Context, states ...models.State) ([]models.Account, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	query := `SELECT ` + accountColumns + ` FROM account_lifecycle WHERE state = ANY($1) ORDER BY user_id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list account lifecycle: %w", err)
	}
	defer rows.Close()

	out := make([]models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account lifecycle: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account lifecycle: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (models.Account, error) {
	var (
		a                               models.Account
		userID                          uuid.UUID
		state                           string
		notified, scheduled, anonymized sql.NullTime
	)
	if err := row.Scan(&userID, &state, &a.LastActivityAt, &notified, &scheduled, &anonymized, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	a.UserID = domain.UserID(userID)
	a.State = models.State(state)
	a.NotifiedAt = nullTime(notified)
	a.ScheduledDeletionAt = nullTime(scheduled)
	a.AnonymizedAt = nullTime(anonymized)
	return a, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
