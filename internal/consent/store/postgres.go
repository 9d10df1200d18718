package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"carekeeper/internal/consent/models"
	"carekeeper/pkg/domain"
	txcontext "carekeeper/pkg/platform/tx"
)

// Postgres persists consent events. The BIGSERIAL sequence column gives the
// durable insertion order used to break timestamp ties.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, e models.Event) (models.Event, error) {
	query := `
		INSERT INTO consent_events (id, user_id, consent_type, kind, policy_version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING sequence
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(e.ID),
		uuid.UUID(e.UserID),
		string(e.Type),
		string(e.Kind),
		e.PolicyVersion,
		e.Timestamp,
	).Scan(&e.Sequence)
	if err != nil {
		return models.Event{}, fmt.Errorf("insert consent event: %w", err)
	}
	return e, nil
}

func (s *Postgres) ListByUser(ctx context.Context, userID domain.UserID, types ...domain.ConsentType) ([]models.Event, error) {
	query := `
		SELECT id, consent_type, kind, policy_version, occurred_at, sequence
		FROM consent_events
		WHERE user_id = $1
	`
	args := []any{uuid.UUID(userID)}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND consent_type = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY occurred_at, sequence`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consent events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			e           = models.Event{UserID: userID}
			id          uuid.UUID
			ctype, kind string
		)
		if err := rows.Scan(&id, &ctype, &kind, &e.PolicyVersion, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan consent event: %w", err)
		}
		e.ID = domain.ConsentEventID(id)
		e.Type = domain.ConsentType(ctype)
		e.Kind = models.Kind(kind)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent events: %w", err)
	}
	return out, nil
}
