// Package models defines the account retention lifecycle.
package models

import (
	"time"

	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
)

// State is a lifecycle state. ANONYMIZED is terminal.
type State string

const (
	StateActive            State = "ACTIVE"
	StateInactiveFlagged   State = "INACTIVE_FLAGGED"
	StateDeletionScheduled State = "DELETION_SCHEDULED"
	StateAnonymized        State = "ANONYMIZED"
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateActive, StateInactiveFlagged, StateDeletionScheduled, StateAnonymized:
		return st, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid lifecycle state")
	}
}

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool { return s == StateAnonymized }

// PendingStates are the states the scheduler has to look at.
func PendingStates() []State {
	return []State{StateActive, StateInactiveFlagged, StateDeletionScheduled}
}

// Account is one user's lifecycle row. Version increases on every update
// and guards concurrent transitions.
type Account struct {
	UserID              domain.UserID `json:"user_id"`
	State               State         `json:"state"`
	LastActivityAt      time.Time     `json:"last_activity_at"`
	NotifiedAt          *time.Time    `json:"notified_at,omitempty"`
	ScheduledDeletionAt *time.Time    `json:"scheduled_deletion_at,omitempty"`
	AnonymizedAt        *time.Time    `json:"anonymized_at,omitempty"`
	Version             int64         `json:"version"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Policy holds the lifecycle timings.
type Policy struct {
	InactivityThreshold time.Duration
	GracePeriod         time.Duration
}

const (
	DefaultInactivityThreshold = 2 * 365 * 24 * time.Hour
	DefaultGracePeriod         = 30 * 24 * time.Hour
)

func DefaultPolicy() Policy {
	return Policy{InactivityThreshold: DefaultInactivityThreshold, GracePeriod: DefaultGracePeriod}
}

// Failure describes one account a tick could not process.
type Failure struct {
	UserID domain.UserID `json:"user_id"`
	Error  string        `json:"error"`
}

// BatchReport summarizes one scheduler tick.
type BatchReport struct {
	Processed    int       `json:"processed"`
	Transitioned int       `json:"transitioned"`
	Skipped      int       `json:"skipped"`
	Failed       []Failure `json:"failed"`
}
