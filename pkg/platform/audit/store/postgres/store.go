// Package postgres persists the audit trail in an append-only table whose
// BIGSERIAL sequence orders records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	txcontext "carekeeper/pkg/platform/tx"
)

// Store implements audit.Store. It joins the caller's transaction when one
// is present in the context, so a mandatory record commits or rolls back
// with the state change it describes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `
	sequence, id, actor_id, actor_role, action, resource_type, resource_id,
	owner_id, decision, reason, before_state, after_state, occurred_at,
	origin_address, origin_agent, request_id`

func (s *Store) Append(ctx context.Context, r audit.Record) (audit.Record, error) {
	query := `
		INSERT INTO audit_records (
			id, actor_id, actor_role, action, resource_type, resource_id,
			owner_id, decision, reason, before_state, after_state, occurred_at,
			origin_address, origin_agent, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING sequence
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(r.ID),
		nullableUUID(r.ActorID),
		string(r.ActorRole),
		string(r.Action),
		string(r.ResourceType),
		string(r.ResourceID),
		nullableUUID(r.OwnerID),
		string(r.Decision),
		r.Reason,
		nullableJSON(r.Before),
		nullableJSON(r.After),
		r.Timestamp,
		r.Origin.Address,
		r.Origin.Agent,
		r.RequestID,
	).Scan(&r.Sequence)
	if err != nil {
		return audit.Record{}, fmt.Errorf("insert audit record: %w", err)
	}
	return r, nil
}

func (s *Store) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !f.ActorID.IsNil() {
		add("actor_id = $%d", uuid.UUID(f.ActorID))
	}
	if !f.OwnerID.IsNil() {
		add("owner_id = $%d", uuid.UUID(f.OwnerID))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", string(f.ResourceType))
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", string(f.ResourceID))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}

	query := "SELECT" + selectColumns + " FROM audit_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at, sequence"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) Range(ctx context.Context, from, to time.Time, afterSeq int64, limit int) ([]audit.Record, error) {
	query := "SELECT" + selectColumns + `
		FROM audit_records
		WHERE occurred_at >= $1 AND occurred_at < $2 AND sequence > $3
		ORDER BY sequence
		LIMIT $4`
	rows, err := s.execer(ctx).QueryContext(ctx, query, from, to, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("range audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]audit.Record, error) {
	var out []audit.Record
	for rows.Next() {
		var (
			r                   audit.Record
			id                  uuid.UUID
			actorID, ownerID    uuid.NullUUID
			actorRole, action   string
			resourceType, resID string
			decision            string
			before, after       []byte
		)
		err := rows.Scan(
			&r.Sequence, &id, &actorID, &actorRole, &action, &resourceType, &resID,
			&ownerID, &decision, &r.Reason, &before, &after, &r.Timestamp,
			&r.Origin.Address, &r.Origin.Agent, &r.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.ID = domain.AuditRecordID(id)
		if actorID.Valid {
			r.ActorID = domain.UserID(actorID.UUID)
		}
		if ownerID.Valid {
			r.OwnerID = domain.UserID(ownerID.UUID)
		}
		r.ActorRole = domain.Role(actorRole)
		r.Action = audit.Action(action)
		r.ResourceType = domain.ResourceType(resourceType)
		r.ResourceID = domain.ResourceID(resID)
		r.Decision = audit.Outcome(decision)
		if len(before) > 0 {
			r.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			r.After = json.RawMessage(after)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func nullableUUID(id domain.UserID) any {
	if id.IsNil() {
		return nil
	}
	return uuid.UUID(id)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
