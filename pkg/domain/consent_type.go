package domain

import dErrors "carekeeper/pkg/domain-errors"

// ConsentType identifies what a user consents to. Consent is tracked per
// type so revoking marketing never touches clinical data sharing.
//
// Usage: construct via ParseConsentType at trust boundaries; direct casting
// bypasses the allowlist.
type ConsentType string

const (
	// ConsentSensitiveHealthData gates non-owner reads of clinical content.
	ConsentSensitiveHealthData ConsentType = "sensitive_health_data"
	ConsentDataProcessing      ConsentType = "data_processing"
	ConsentMarketing           ConsentType = "marketing"
)

var validConsentTypes = map[ConsentType]bool{
	ConsentSensitiveHealthData: true,
	ConsentDataProcessing:      true,
	ConsentMarketing:           true,
}

// ParseConsentType constructs a ConsentType from external input.
func ParseConsentType(s string) (ConsentType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "consent type cannot be empty")
	}
	t := ConsentType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid consent type")
	}
	return t, nil
}

func (t ConsentType) IsValid() bool  { return validConsentTypes[t] }
func (t ConsentType) String() string { return string(t) }
