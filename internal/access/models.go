package access

import (
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
)

// Reason explains a Decision. Deny reasons surface to callers; allow reasons
// are recorded in the audit trail.
type Reason string

const (
	ReasonAdmin                    Reason = "ADMIN"
	ReasonSecretaryAdministrative  Reason = "SECRETARY_ADMINISTRATIVE"
	ReasonOwner                    Reason = "OWNER"
	ReasonAssignedDoctor           Reason = "ASSIGNED_DOCTOR"
	ReasonNotAuthorized            Reason = "NOT_AUTHORIZED"
	ReasonConsentRequired          Reason = "CONSENT_REQUIRED"
	ReasonRelationshipLookupFailed Reason = "RELATIONSHIP_LOOKUP_FAILED"
	ReasonConsentLookupFailed      Reason = "CONSENT_LOOKUP_FAILED"
)

func (r Reason) String() string { return string(r) }

// Resource describes the data a subject wants to touch. OwnerPatientID is
// nil for resources without a patient owner (the user directory, for
// example). AssignedDoctorID is the authoring doctor for doctor-authored
// content, or the doctor being set on create. VisibleToPatient only applies
// to doctor notes; nil means visible.
type Resource struct {
	Type             domain.ResourceType `json:"type"`
	ID               domain.ResourceID   `json:"id,omitempty"`
	OwnerPatientID   *domain.UserID      `json:"owner_patient_id,omitempty"`
	AssignedDoctorID *domain.UserID      `json:"assigned_doctor_id,omitempty"`
	VisibleToPatient *bool               `json:"visible_to_patient,omitempty"`
}

// OwnedBy reports whether the resource's patient owner is id.
func (r Resource) OwnedBy(id domain.UserID) bool {
	return r.OwnerPatientID != nil && !id.IsNil() && *r.OwnerPatientID == id
}

func (r Resource) hiddenFromPatient() bool {
	return r.VisibleToPatient != nil && !*r.VisibleToPatient
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allowed: false, Reason: r} }

// Err converts a denial into the domain error handlers return. Allowed
// decisions yield nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonConsentRequired {
		return dErrors.New(dErrors.CodeConsentRequired, "patient consent for sensitive health data is required")
	}
	return dErrors.New(dErrors.CodeForbidden, "access denied: "+d.Reason.String())
}
