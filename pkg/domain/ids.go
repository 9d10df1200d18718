package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "carekeeper/pkg/domain-errors"

	"github.com/google/uuid"
)

// Typed identifiers. Each wraps a uuid.UUID so a patient ID can never be
// passed where an audit record ID is expected.
type (
	UserID         uuid.UUID
	AuditRecordID  uuid.UUID
	ConsentEventID uuid.UUID
	RecordID       uuid.UUID
)

// ResourceID identifies a row in another service (appointment, exam, ...).
// The engine never interprets it beyond validation.
type ResourceID string

const maxResourceIDLength = 128

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id AuditRecordID) String() string  { return uuid.UUID(id).String() }
func (id ConsentEventID) String() string { return uuid.UUID(id).String() }
func (id RecordID) String() string       { return uuid.UUID(id).String() }
func (id ResourceID) String() string     { return string(id) }

// Text marshaling keeps IDs as canonical strings in JSON bodies and audit
// snapshots.
func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id AuditRecordID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id ConsentEventID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RecordID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *AuditRecordID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *ConsentEventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *RecordID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id AuditRecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a random user ID. Intended for tests and seeding; real
// IDs arrive as trusted claims.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewRecordID returns a random medical record ID.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// ParseUserID parses a user ID at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

// ParseAuditRecordID parses an audit record ID.
func ParseAuditRecordID(s string) (AuditRecordID, error) {
	u, err := parseUUID(s, "audit record ID")
	return AuditRecordID(u), err
}

// ParseConsentEventID parses a consent event ID.
func ParseConsentEventID(s string) (ConsentEventID, error) {
	u, err := parseUUID(s, "consent event ID")
	return ConsentEventID(u), err
}

// ParseRecordID parses a medical record ID.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s, "record ID")
	return RecordID(u), err
}

// ParseResourceID validates an opaque resource identifier.
func ParseResourceID(s string) (ResourceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "resource ID cannot be empty")
	}
	if len(s) > maxResourceIDLength || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid resource ID")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid resource ID")
		}
	}
	return ResourceID(s), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	// uuid.Parse also accepts urn and braced forms; the canonical 36-char
	// form is the only one accepted at the boundary.
	if len(s) != 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
