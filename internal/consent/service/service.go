// Package service implements the consent ledger. Grant and Revoke always
// append, even when they repeat the current status, so each action is
// independently auditable. Status is derived from the log on every read.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"carekeeper/internal/consent/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/requestcontext"
)

const maxPolicyVersionLength = 64

type Store interface {
	Append(ctx context.Context, e models.Event) (models.Event, error)
	// ListByUser returns the user's events ordered by (Timestamp, Sequence),
	// restricted to types when any are given.
	ListByUser(ctx context.Context, userID domain.UserID, types ...domain.ConsentType) ([]models.Event, error)
}

// Ledger is the consent service.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("consent store is required")
	}
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Grant appends a GRANT event under the given policy version.
func (l *Ledger) Grant(ctx context.Context, userID domain.UserID, t domain.ConsentType, policyVersion string) (*models.Event, error) {
	policyVersion = strings.TrimSpace(policyVersion)
	if policyVersion == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "policy version is required to grant consent")
	}
	if len(policyVersion) > maxPolicyVersionLength {
		return nil, dErrors.New(dErrors.CodeValidation, "policy version is too long")
	}
	return l.append(ctx, userID, t, models.KindGrant, policyVersion)
}

// Revoke appends a REVOKE event. It takes effect for every evaluation that
// starts after it is stored; audit records written earlier are untouched.
func (l *Ledger) Revoke(ctx context.Context, userID domain.UserID, t domain.ConsentType) (*models.Event, error) {
	return l.append(ctx, userID, t, models.KindRevoke, "")
}

// CurrentStatus derives the status for (userID, t) from the event log.
func (l *Ledger) CurrentStatus(ctx context.Context, userID domain.UserID, t domain.ConsentType) (models.Status, error) {
	if err := validate(userID, t); err != nil {
		return models.Status{}, err
	}
	events, err := l.store.ListByUser(ctx, userID, t)
	if err != nil {
		return models.Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent ledger")
	}
	return models.DeriveStatus(userID, t, events), nil
}

// Statuses derives the status of every known consent type for userID.
func (l *Ledger) Statuses(ctx context.Context, userID domain.UserID) ([]models.Status, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user ID is required")
	}
	events, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent ledger")
	}
	types := []domain.ConsentType{domain.ConsentSensitiveHealthData, domain.ConsentDataProcessing, domain.ConsentMarketing}
	out := make([]models.Status, 0, len(types))
	for _, t := range types {
		out = append(out, models.DeriveStatus(userID, t, events))
	}
	return out, nil
}

// History returns every event for (userID, t), oldest first.
func (l *Ledger) History(ctx context.Context, userID domain.UserID, t domain.ConsentType) ([]models.Event, error) {
	if err := validate(userID, t); err != nil {
		return nil, err
	}
	events, err := l.store.ListByUser(ctx, userID, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent ledger")
	}
	return events, nil
}

func (l *Ledger) append(ctx context.Context, userID domain.UserID, t domain.ConsentType, kind models.Kind, policyVersion string) (*models.Event, error) {
	if err := validate(userID, t); err != nil {
		return nil, err
	}
	e := models.Event{
		ID:            domain.ConsentEventID(uuid.New()),
		UserID:        userID,
		Type:          t,
		Kind:          kind,
		PolicyVersion: policyVersion,
		Timestamp:     requestcontext.Now(ctx).UTC(),
	}
	stored, err := l.store.Append(ctx, e)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to append consent event",
			"user_id", userID,
			"consent_type", t,
			"kind", kind,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record consent")
	}
	l.logger.InfoContext(ctx, "consent event recorded",
		"user_id", userID,
		"consent_type", t,
		"kind", kind,
		"sequence", stored.Sequence,
	)
	return &stored, nil
}

func validate(userID domain.UserID, t domain.ConsentType) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "user ID is required")
	}
	if !t.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid consent type")
	}
	return nil
}
