package audit

import "carekeeper/pkg/domain"

// Policy decides, per resource type, whether an audit write is mandatory
// (synchronous, fail-closed) or best-effort (buffered, may drop).
type Policy struct {
	mandatory map[domain.ResourceType]bool
}

// DefaultPolicy makes every clinical type and every compliance type
// mandatory. Administrative reads (appointments, contacts, directory) are
// best-effort.
func DefaultPolicy() Policy {
	types := append(domain.ClinicalTypes(),
		domain.ResourceConsents,
		domain.ResourceAccountLifecycle,
		domain.ResourceAuditTrail,
		domain.ResourcePatientAssignments,
	)
	return NewPolicy(types...)
}

// NewPolicy builds a policy with exactly the given mandatory types.
func NewPolicy(mandatory ...domain.ResourceType) Policy {
	m := make(map[domain.ResourceType]bool, len(mandatory))
	for _, t := range mandatory {
		m[t] = true
	}
	return Policy{mandatory: m}
}

// IsMandatory reports whether a failed write for rt must abort the action.
// Every delete is mandatory regardless of type.
func (p Policy) IsMandatory(rt domain.ResourceType, action Action) bool {
	if action == ActionDelete {
		return true
	}
	return p.mandatory[rt]
}
