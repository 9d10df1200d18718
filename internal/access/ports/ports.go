//go:generate mockgen -source=ports.go -destination=../mocks/ports.go -package=mocks

// Package ports declares what the access evaluator needs from other modules.
// Each port is owned here so the evaluator never imports another module's
// service directly.
package ports

import (
	"context"

	"carekeeper/pkg/domain"
)

// RelationshipPort resolves doctor-patient assignments. Implementations must
// re-resolve on every call; a removed assignment takes effect immediately.
type RelationshipPort interface {
	IsAssigned(ctx context.Context, doctorID, patientID domain.UserID) (bool, error)
}

// ConsentPort reports the owner's current consent status for a type.
type ConsentPort interface {
	HasConsent(ctx context.Context, userID domain.UserID, consentType domain.ConsentType) (bool, error)
}
