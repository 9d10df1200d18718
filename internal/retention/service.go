package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carekeeper/internal/retention/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/audit"
	"carekeeper/pkg/platform/sentinel"
	"carekeeper/pkg/requestcontext"
)

// Service handles user-driven lifecycle events: enrollment, logins and
// deletion requests. Callers run it inside the gate, which audits the
// request itself; a login that cancels a pending deletion additionally
// records the CANCEL transition here.
type Service struct {
	store  Store
	trail  Recorder
	policy models.Policy
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithServicePolicy(p models.Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

func NewService(store Store, trail Recorder, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("lifecycle store is required")
	}
	if trail == nil {
		return nil, fmt.Errorf("audit trail is required")
	}
	s := &Service{store: store, trail: trail, policy: models.DefaultPolicy(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enroll creates the ACTIVE lifecycle row for a new account.
func (s *Service) Enroll(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user ID is required")
	}
	at := now.UTC()
	a := models.Account{
		UserID:         userID,
		State:          models.StateActive,
		LastActivityAt: at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "account already enrolled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enroll account")
	}
	a.Version = 1
	return &a, nil
}

// Status returns the account's lifecycle row.
func (s *Service) Status(ctx context.Context, userID domain.UserID) (*models.Account, error) {
	a, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account lifecycle")
	}
	return a, nil
}

// RecordLogin refreshes last activity. A login while flagged or scheduled
// for deletion cancels the countdown. An anonymized account no longer
// exists: the holder has to register a new identity.
func (s *Service) RecordLogin(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error) {
	a, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.State == models.StateAnonymized {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}

	next := *a
	next.LastActivityAt = now.UTC()
	next.UpdatedAt = now.UTC()
	t, cancelled := Cancel(*a)
	if cancelled {
		next = Apply(next, t, now)
	}

	stored, err := s.store.Update(ctx, a.State, a.Version, next)
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "account changed concurrently, retry")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login")
	}

	if cancelled {
		if err := s.recordTransition(ctx, t.Action, *a, stored, now); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "pending deletion cancelled by login",
			"user_id", userID,
			"from", t.From,
		)
	}
	return &stored, nil
}

// RequestDeletion schedules the account for anonymization after the grace
// period. Only ACTIVE and INACTIVE_FLAGGED accounts can be scheduled.
func (s *Service) RequestDeletion(ctx context.Context, userID domain.UserID, now time.Time) (*models.Account, error) {
	a, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, ok := RequestDeletion(*a, now, s.policy)
	if !ok {
		return nil, dErrors.New(dErrors.CodeConflict, "account cannot be scheduled for deletion from state "+a.State.String())
	}
	stored, err := s.store.Update(ctx, a.State, a.Version, next)
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "account changed concurrently, retry")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule deletion")
	}
	if err := s.recordTransition(ctx, audit.ActionLifecycleSched, *a, stored, now); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account deletion requested",
		"user_id", userID,
		"scheduled_deletion_at", stored.ScheduledDeletionAt,
	)
	return &stored, nil
}

// recordTransition audits a lifecycle move made on behalf of a request.
// The actor is the caller in ctx, or the account holder when there is none.
func (s *Service) recordTransition(ctx context.Context, action audit.Action, before, after models.Account, now time.Time) error {
	actor := domain.Subject{ID: before.UserID, Role: domain.RolePatient}
	if subject, ok := requestcontext.Subject(ctx); ok && subject.Role.IsValid() {
		actor = subject
	}
	_, err := s.trail.Record(ctx, audit.Entry{
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: domain.ResourceAccountLifecycle,
		ResourceID:   domain.ResourceID(before.UserID.String()),
		OwnerID:      before.UserID,
		Decision:     audit.OutcomeAllowed,
		Reason:       fmt.Sprintf("%s->%s", before.State, after.State),
		Before:       snapshot(before),
		After:        snapshot(after),
		Timestamp:    now,
	})
	return err
}

func snapshot(a models.Account) json.RawMessage {
	b, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	return b
}
