// Package models defines the consent ledger: an append-only log of grant and
// revoke events from which the current status is derived.
package models

import (
	"sort"
	"time"

	"carekeeper/pkg/domain"
)

// Kind is what a consent event does.
type Kind string

const (
	KindGrant  Kind = "GRANT"
	KindRevoke Kind = "REVOKE"
)

// State is the derived consent status for one (user, type) pair.
type State string

const (
	StateGrant  State = "GRANT"
	StateRevoke State = "REVOKE"
	StateNone   State = "NONE"
)

// Event is one immutable ledger entry. Sequence is assigned by the store
// and breaks ties between events with equal timestamps.
type Event struct {
	ID            domain.ConsentEventID `json:"id"`
	UserID        domain.UserID         `json:"user_id"`
	Type          domain.ConsentType    `json:"consent_type"`
	Kind          Kind                  `json:"kind"`
	PolicyVersion string                `json:"policy_version,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
	Sequence      int64                 `json:"sequence"`
}

// Status is never stored; it is recomputed from events on every read.
type Status struct {
	UserID        domain.UserID      `json:"user_id"`
	Type          domain.ConsentType `json:"consent_type"`
	State         State              `json:"state"`
	Since         *time.Time         `json:"since,omitempty"`
	PolicyVersion string             `json:"policy_version,omitempty"`
}

// Granted reports whether the status is an active grant.
func (s Status) Granted() bool { return s.State == StateGrant }

// DeriveStatus returns the status implied by events for (userID, t): the
// kind of the latest event by timestamp, ties broken by sequence. Events for
// other users or types are ignored. No events means StateNone.
func DeriveStatus(userID domain.UserID, t domain.ConsentType, events []Event) Status {
	status := Status{UserID: userID, Type: t, State: StateNone}

	var latest *Event
	for i := range events {
		e := &events[i]
		if e.UserID != userID || e.Type != t {
			continue
		}
		if latest == nil || after(*e, *latest) {
			latest = e
		}
	}
	if latest == nil {
		return status
	}
	since := latest.Timestamp
	status.Since = &since
	status.PolicyVersion = latest.PolicyVersion
	if latest.Kind == KindGrant {
		status.State = StateGrant
	} else {
		status.State = StateRevoke
	}
	return status
}

// SortEvents orders events chronologically, ties broken by sequence.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return after(events[j], events[i])
	})
}

func after(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Sequence > b.Sequence
}
