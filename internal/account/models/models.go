// Package models defines the account profile: the personal data that is
// anonymized when an account reaches the end of its lifecycle.
package models

import (
	"time"

	"carekeeper/pkg/domain"
)

type Profile struct {
	UserID       domain.UserID `json:"user_id"`
	FullName     string        `json:"full_name"`
	Email        string        `json:"email"`
	Phone        string        `json:"phone,omitempty"`
	NationalID   string        `json:"national_id,omitempty"`
	AnonymizedAt *time.Time    `json:"anonymized_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// IsAnonymized reports whether the profile's PII has been replaced.
func (p Profile) IsAnonymized() bool { return p.AnonymizedAt != nil }
