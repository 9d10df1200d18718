package audit

import (
	"context"
	"time"
)

// Store persists audit records. There is deliberately no update or delete.
type Store interface {
	// Append assigns the next sequence number and persists r.
	Append(ctx context.Context, r Record) (Record, error)
	// Query returns matching records ordered by (Timestamp, Sequence).
	Query(ctx context.Context, f Filter) ([]Record, error)
	// Range returns up to limit records with from <= Timestamp < to and
	// Sequence > afterSeq, ordered by Sequence. Used for archival export.
	Range(ctx context.Context, from, to time.Time, afterSeq int64, limit int) ([]Record, error)
}
