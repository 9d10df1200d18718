// Package audit is the append-only trail of every authorization decision and
// every compliance-relevant state change.
//
// Writes are split by Policy. Mandatory records are written synchronously
// and a failure aborts the calling operation (CodeAuditWriteFailed).
// Best-effort records go to a bounded ring buffer drained by Run; drops are
// counted and logged but never surface to the caller.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/requestcontext"
)

const (
	modeMandatory  = "mandatory"
	modeBestEffort = "best_effort"

	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushBatch    = 256
	drainTimeout         = 5 * time.Second
)

// Trail records and queries audit entries.
type Trail struct {
	store         Store
	policy        Policy
	buffer        *ringBuffer
	breaker       *circuitBreaker
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	bufferCapacity   int
	breakerThreshold int
	breakerCooldown  time.Duration
	clock            func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) { t.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Trail) { t.metrics = m }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(t *Trail) { t.policy = p }
}

// WithBufferCapacity bounds the best-effort queue.
func WithBufferCapacity(n int) Option {
	return func(t *Trail) { t.bufferCapacity = n }
}

// WithCircuitBreaker sets how many consecutive best-effort failures open the
// breaker and how long it stays open.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(t *Trail) {
		t.breakerThreshold = threshold
		t.breakerCooldown = cooldown
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(t *Trail) { t.flushInterval = d }
}

// WithClock overrides the breaker clock. Tests only.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.clock = now }
}

// New creates a Trail over store.
func New(store Store, opts ...Option) (*Trail, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	t := &Trail{
		store:         store,
		policy:        DefaultPolicy(),
		flushInterval: defaultFlushInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.flushInterval <= 0 {
		t.flushInterval = defaultFlushInterval
	}
	t.buffer = newRingBuffer(t.bufferCapacity)
	t.breaker = newCircuitBreaker(t.breakerThreshold, t.breakerCooldown, t.clock)
	return t, nil
}

// Policy returns the write policy in force.
func (t *Trail) Policy() Policy { return t.policy }

// Record appends an entry. For mandatory entries the returned Record carries
// its sequence number; for best-effort entries Sequence is zero because the
// write happens later.
func (t *Trail) Record(ctx context.Context, e Entry) (*Record, error) {
	if err := validate(e); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "invalid audit entry")
	}
	rec := Record{
		ID:    domain.AuditRecordID(uuid.New()),
		Entry: enrich(ctx, e),
	}

	if !t.policy.IsMandatory(e.ResourceType, e.Action) {
		if evicted := t.buffer.enqueue(rec); evicted {
			t.metrics.incDropped("buffer_full")
			t.logger.WarnContext(ctx, "audit buffer full, dropped oldest best-effort record",
				"resource_type", e.ResourceType,
			)
		}
		t.metrics.setBufferDepth(t.buffer.len())
		return &rec, nil
	}

	start := time.Now()
	stored, err := t.store.Append(ctx, rec)
	t.metrics.observeWrite(time.Since(start).Seconds())
	if err != nil {
		t.metrics.incWriteFailure(modeMandatory)
		t.logger.ErrorContext(ctx, "CRITICAL: mandatory audit write failed",
			"action", e.Action,
			"resource_type", e.ResourceType,
			"resource_id", e.ResourceID,
			"actor_id", e.ActorID,
			"request_id", rec.RequestID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "audit trail unavailable")
	}
	t.metrics.incWritten(modeMandatory)
	return &stored, nil
}

// Query returns records visible to subject. Admins see everything matching
// f; everyone else only sees records they are the actor of.
func (t *Trail) Query(ctx context.Context, subject domain.Subject, f Filter) ([]Record, error) {
	if !subject.IsAdmin() {
		if subject.ID.IsNil() {
			return nil, dErrors.New(dErrors.CodeForbidden, "audit query requires a subject")
		}
		f.ActorID = subject.ID
	}
	f.Limit = f.effectiveLimit()
	records, err := t.store.Query(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit trail")
	}
	return records, nil
}

// Run flushes best-effort records until ctx is cancelled, then drains what
// is left with a short deadline.
func (t *Trail) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for t.buffer.len() > 0 && drainCtx.Err() == nil {
				if t.Flush(drainCtx) == 0 && t.breaker.isOpen() {
					break
				}
			}
			if n := t.buffer.len(); n > 0 {
				t.logger.Warn("audit worker stopped with unflushed best-effort records", "pending", n)
			}
			return nil
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

// Flush writes one batch of buffered records and returns how many were
// persisted.
func (t *Trail) Flush(ctx context.Context) int {
	batch := t.buffer.dequeueBatch(defaultFlushBatch)
	written := 0
	for _, rec := range batch {
		if !t.breaker.allow() {
			t.metrics.incDropped("circuit_open")
			continue
		}
		if _, err := t.store.Append(ctx, rec); err != nil {
			t.metrics.incWriteFailure(modeBestEffort)
			t.metrics.incDropped("write_failed")
			if t.breaker.recordFailure() {
				t.metrics.setCircuitOpen(true)
				t.logger.ErrorContext(ctx, "audit store unhealthy, best-effort circuit opened", "error", err)
			}
			continue
		}
		t.breaker.recordSuccess()
		t.metrics.setCircuitOpen(false)
		t.metrics.incWritten(modeBestEffort)
		written++
	}
	t.metrics.setBufferDepth(t.buffer.len())
	return written
}

// Pending reports buffered best-effort records.
func (t *Trail) Pending() int { return t.buffer.len() }

// Dropped reports best-effort records evicted because the buffer was full.
func (t *Trail) Dropped() int64 { return t.buffer.droppedCount() }

func validate(e Entry) error {
	if e.Action == "" {
		return errors.New("action is required")
	}
	if !e.ResourceType.IsValid() {
		return fmt.Errorf("unknown resource type %q", e.ResourceType)
	}
	if e.Decision != OutcomeAllowed && e.Decision != OutcomeDenied {
		return fmt.Errorf("unknown decision %q", e.Decision)
	}
	if !e.ActorRole.IsValid() {
		return fmt.Errorf("unknown actor role %q", e.ActorRole)
	}
	return nil
}

// enrich fills request-scoped fields the caller left empty.
func enrich(ctx context.Context, e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Origin == (Origin{}) {
		e.Origin = Origin{
			Address: requestcontext.ClientIP(ctx),
			Agent:   requestcontext.UserAgent(ctx),
		}
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	return e
}
