package retention

import (
	"time"

	"carekeeper/internal/retention/models"
	"carekeeper/pkg/platform/audit"
)

// Notification templates.
const (
	TemplateInactivityWarning = "inactivity-warning"
	TemplateDeletionScheduled = "deletion-scheduled"
	TemplateAccountAnonymized = "account-anonymized"
)

// Transition is one step of the lifecycle.
type Transition struct {
	From     models.State
	To       models.State
	Action   audit.Action
	Template string
}

// Next returns the time-driven transition due for a at now, if any. It
// reads no clock and has no side effects.
func Next(a models.Account, now time.Time, p models.Policy) (Transition, bool) {
	switch a.State {
	case models.StateActive:
		if now.Sub(a.LastActivityAt) > p.InactivityThreshold {
			return Transition{From: a.State, To: models.StateInactiveFlagged, Action: audit.ActionLifecycleWarn, Template: TemplateInactivityWarning}, true
		}
	case models.StateInactiveFlagged:
		if a.NotifiedAt != nil && !now.Before(a.NotifiedAt.Add(p.GracePeriod)) {
			return Transition{From: a.State, To: models.StateDeletionScheduled, Action: audit.ActionLifecycleSched, Template: TemplateDeletionScheduled}, true
		}
	case models.StateDeletionScheduled:
		if a.ScheduledDeletionAt != nil && !now.Before(*a.ScheduledDeletionAt) {
			return Transition{From: a.State, To: models.StateAnonymized, Action: audit.ActionLifecycleExecute, Template: TemplateAccountAnonymized}, true
		}
	}
	return Transition{}, false
}

// Apply returns a with t applied at now. Version is left to the store.
func Apply(a models.Account, t Transition, now time.Time) models.Account {
	at := now.UTC()
	a.State = t.To
	a.UpdatedAt = at
	switch t.To {
	case models.StateInactiveFlagged:
		a.NotifiedAt = &at
	case models.StateDeletionScheduled:
		a.ScheduledDeletionAt = &at
	case models.StateAnonymized:
		a.AnonymizedAt = &at
	case models.StateActive:
		a.NotifiedAt = nil
		a.ScheduledDeletionAt = nil
	}
	return a
}

// Cancel is the login-driven return to ACTIVE. ok is false when a is not in
// a cancellable state.
func Cancel(a models.Account) (Transition, bool) {
	switch a.State {
	case models.StateInactiveFlagged, models.StateDeletionScheduled:
		return Transition{From: a.State, To: models.StateActive, Action: audit.ActionLifecycleCancel}, true
	}
	return Transition{}, false
}

// RequestDeletion is the user-initiated move to DELETION_SCHEDULED, due
// after the grace period.
func RequestDeletion(a models.Account, now time.Time, p models.Policy) (models.Account, bool) {
	switch a.State {
	case models.StateActive, models.StateInactiveFlagged:
	default:
		return a, false
	}
	due := now.UTC().Add(p.GracePeriod)
	a.State = models.StateDeletionScheduled
	a.ScheduledDeletionAt = &due
	a.UpdatedAt = now.UTC()
	return a, true
}
