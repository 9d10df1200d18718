package audit

import (
	"encoding/json"
	"time"

	"carekeeper/pkg/domain"
)

// Action names what happened to the resource.
type Action string

const (
	// Data access, mirrored from the requested operation.
	ActionRead   Action = "READ"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"

	// Account lifecycle transitions.
	ActionLifecycleEnroll  Action = "ENROLL"
	ActionLifecycleWarn    Action = "WARN"
	ActionLifecycleRequest Action = "DELETION_REQUESTED"
	ActionLifecycleSched   Action = "SCHEDULE"
	ActionLifecycleExecute Action = "EXECUTE"
	ActionLifecycleCancel  Action = "CANCEL"

	// Consent ledger changes.
	ActionConsentGrant  Action = "CONSENT_GRANT"
	ActionConsentRevoke Action = "CONSENT_REVOKE"

	// Care-team assignment changes.
	ActionAssign   Action = "ASSIGN"
	ActionUnassign Action = "UNASSIGN"
)

// ActionForOperation maps a requested operation to its audit action.
func ActionForOperation(op domain.Operation) Action {
	switch op {
	case domain.OperationCreate:
		return ActionCreate
	case domain.OperationUpdate:
		return ActionUpdate
	case domain.OperationDelete:
		return ActionDelete
	default:
		return ActionRead
	}
}

// Outcome is the decision recorded with the entry.
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeDenied  Outcome = "DENIED"
)

// OutcomeOf converts an allow flag to an Outcome.
func OutcomeOf(allowed bool) Outcome {
	if allowed {
		return OutcomeAllowed
	}
	return OutcomeDenied
}

// Origin describes where the request came from.
type Origin struct {
	Address string `json:"address,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// Entry is what callers hand to the trail. The trail assigns ID, Sequence
// and (when zero) Timestamp.
type Entry struct {
	ActorID      domain.UserID
	ActorRole    domain.Role
	Action       Action
	ResourceType domain.ResourceType
	ResourceID   domain.ResourceID
	// OwnerID is the patient the resource belongs to, when there is one.
	OwnerID   domain.UserID
	Decision  Outcome
	Reason    string
	Before    json.RawMessage
	After     json.RawMessage
	Timestamp time.Time
	Origin    Origin
	RequestID string
}

// Record is a persisted, immutable audit entry. Records for one resource
// are totally ordered by (Timestamp, Sequence); Sequence is strictly
// increasing per store.
type Record struct {
	ID       domain.AuditRecordID
	Sequence int64
	Entry
}

// Filter narrows Query and export reads. Zero fields match everything.
type Filter struct {
	ActorID      domain.UserID
	OwnerID      domain.UserID
	ResourceType domain.ResourceType
	ResourceID   domain.ResourceID
	From         time.Time
	To           time.Time
	Limit        int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (f Filter) effectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return defaultQueryLimit
	case f.Limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r satisfies f. Stores without a query language
// use it directly.
func (f Filter) Matches(r Record) bool {
	if !f.ActorID.IsNil() && r.ActorID != f.ActorID {
		return false
	}
	if !f.OwnerID.IsNil() && r.OwnerID != f.OwnerID {
		return false
	}
	if f.ResourceType != "" && r.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && r.ResourceID != f.ResourceID {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}
