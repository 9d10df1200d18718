// Package retention drives the account lifecycle: inactivity warnings,
// scheduled deletion and PII anonymization. Medical records are never
// touched here; they are governed by their own retention floor.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"carekeeper/internal/retention/metrics"
	"carekeeper/internal/retention/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/sentinel"
	"carekeeper/pkg/platform/tx"
	"carekeeper/pkg/requestcontext"
)

// Store persists lifecycle rows.
type Store interface {
	Create(ctx context.Context, a models.Account) error
	Get(ctx context.Context, userID domain.UserID) (*models.Account, error)
	// Update stores next only if the row is still at (expectedState,
	// expectedVersion); otherwise it returns sentinel.ErrConflict.
	Update(ctx context.Context, expectedState models.State, expectedVersion int64, next models.Account) (models.Account, error)
	ListByState(ctx context.Context, states ...models.State) ([]models.Account, error)
}

type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (*audit.Record, error)
}

// Notifier delivers lifecycle notices to the account holder.
type Notifier interface {
	Notify(ctx context.Context, userID domain.UserID, template string) error
}

// Anonymizer replaces an account's PII in place.
type Anonymizer interface {
	Anonymize(ctx context.Context, userID domain.UserID) error
}

const defaultConcurrency = 8

// Scheduler applies due transitions to a batch of accounts.
type Scheduler struct {
	store       Store
	trail       Recorder
	notifier    Notifier
	anonymizer  Anonymizer
	runner      tx.Runner
	policy      models.Policy
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

func WithPolicy(p models.Policy) SchedulerOption {
	return func(s *Scheduler) { s.policy = p }
}

func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithSchedulerTxRunner(r tx.Runner) SchedulerOption {
	return func(s *Scheduler) { s.runner = r }
}

func NewScheduler(store Store, trail Recorder, notifier Notifier, anonymizer Anonymizer, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("lifecycle store is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if anonymizer == nil {
		return nil, fmt.Errorf("anonymizer is required")
	}
	s := &Scheduler{
		store:       store,
		trail:       trail,
		notifier:    notifier,
		anonymizer:  anonymizer,
		runner:      tx.NopRunner{},
		policy:      models.DefaultPolicy(),
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		tracer:      otel.Tracer("carekeeper/retention"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the lifecycle timings in force.
func (s *Scheduler) Policy() models.Policy { return s.policy }

type outcome int

const (
	outcomeNoop outcome = iota
	outcomeTransitioned
	outcomeSkipped
)

// Tick evaluates every account against now and commits due transitions.
// Each account is committed independently; a failure or a lost race on one
// account never affects another. Tick reads no clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, accounts []models.Account) models.BatchReport {
	ctx, span := s.tracer.Start(ctx, "retention.Tick", trace.WithAttributes(
		attribute.Int("accounts", len(accounts)),
	))
	defer span.End()

	var (
		mu     sync.Mutex
		report = models.BatchReport{Failed: []models.Failure{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, a := range accounts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := s.process(gctx, now, a)
			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			switch {
			case err != nil:
				report.Failed = append(report.Failed, models.Failure{UserID: a.UserID, Error: err.Error()})
			case result == outcomeTransitioned:
				report.Transitioned++
			case result == outcomeSkipped:
				report.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("transitioned", report.Transitioned),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("failed", len(report.Failed)),
	)
	s.logger.InfoContext(ctx, "retention tick completed",
		"processed", report.Processed,
		"transitioned", report.Transitioned,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report
}

func (s *Scheduler) process(ctx context.Context, now time.Time, a models.Account) (outcome, error) {
	t, due := Next(a, now, s.policy)
	if !due {
		return outcomeNoop, nil
	}
	// One unit of work per account, even when Tick is called under a
	// caller's transaction.
	ctx = tx.Detach(requestcontext.WithTime(ctx, now))

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		next := Apply(a, t, now)
		stored, err := s.store.Update(ctx, t.From, a.Version, next)
		if err != nil {
			return err
		}
		if t.To == models.StateAnonymized {
			if err := s.anonymizer.Anonymize(ctx, a.UserID); err != nil {
				return fmt.Errorf("anonymize account: %w", err)
			}
		}
		_, err = s.trail.Record(ctx, lifecycleEntry(a, stored, t, now))
		return err
	})
	if errors.Is(err, sentinel.ErrConflict) {
		s.metrics.IncSkipped()
		s.logger.InfoContext(ctx, "lifecycle transition lost race, skipping",
			"user_id", a.UserID,
			"from", t.From,
			"to", t.To,
		)
		return outcomeSkipped, nil
	}
	if err != nil {
		s.metrics.IncFailure()
		s.logger.ErrorContext(ctx, "lifecycle transition failed",
			"user_id", a.UserID,
			"from", t.From,
			"to", t.To,
			"error", err,
		)
		return outcomeNoop, err
	}

	s.metrics.IncTransition(string(t.Action))
	s.logger.InfoContext(ctx, "lifecycle transition committed",
		"user_id", a.UserID,
		"from", t.From,
		"to", t.To,
	)
	s.notify(ctx, a.UserID, t.Template)
	return outcomeTransitioned, nil
}

// notify is best effort; a failed notice never undoes a transition.
func (s *Scheduler) notify(ctx context.Context, userID domain.UserID, template string) {
	if template == "" {
		return
	}
	err := s.notifier.Notify(ctx, userID, template)
	s.metrics.IncNotification(template, err == nil)
	if err != nil {
		s.logger.WarnContext(ctx, "lifecycle notification failed",
			"user_id", userID,
			"template", template,
			"error", err,
		)
	}
}

func lifecycleEntry(before, after models.Account, t Transition, now time.Time) audit.Entry {
	return audit.Entry{
		ActorID:      domain.SystemSubject.ID,
		ActorRole:    domain.SystemSubject.Role,
		Action:       t.Action,
		ResourceType: domain.ResourceAccountLifecycle,
		ResourceID:   domain.ResourceID(before.UserID.String()),
		OwnerID:      before.UserID,
		Decision:     audit.OutcomeAllowed,
		Reason:       fmt.Sprintf("%s->%s", t.From, t.To),
		Before:       snapshot(before),
		After:        snapshot(after),
		Timestamp:    now,
	}
}
