package domain

import dErrors "carekeeper/pkg/domain-errors"

// Role is the closed set of subject roles. Every authorization rule is keyed
// on one of these; there is no open-ended role string anywhere in the engine.
type Role string

const (
	RolePatient   Role = "patient"
	RoleDoctor    Role = "doctor"
	RoleSecretary Role = "secretary"
	RoleAdmin     Role = "admin"
)

var validRoles = map[Role]bool{
	RolePatient:   true,
	RoleDoctor:    true,
	RoleSecretary: true,
	RoleAdmin:     true,
}

// ParseRole constructs a Role from a trusted claim value.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool  { return validRoles[r] }
func (r Role) String() string { return string(r) }

// Subject is the authenticated caller, asserted upstream and trusted verbatim.
type Subject struct {
	ID   UserID
	Role Role
}

// IsAdmin reports whether the subject holds the admin role.
func (s Subject) IsAdmin() bool { return s.Role == RoleAdmin }

// SystemSubject is the privileged actor used by the retention scheduler.
// It never passes through the access evaluator.
var SystemSubject = Subject{Role: RoleAdmin}
