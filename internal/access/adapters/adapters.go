// Package adapters connects the access ports to the in-process relationship
// and consent services.
package adapters

import (
	"context"

	"carekeeper/internal/access/ports"
	consentModels "carekeeper/internal/consent/models"
	"carekeeper/pkg/domain"
)

type assignmentResolver interface {
	IsAssigned(ctx context.Context, doctorID, patientID domain.UserID) (bool, error)
}

type consentStatusReader interface {
	CurrentStatus(ctx context.Context, userID domain.UserID, t domain.ConsentType) (consentModels.Status, error)
}

// RelationshipAdapter implements ports.RelationshipPort.
type RelationshipAdapter struct {
	resolver assignmentResolver
}

func NewRelationshipAdapter(resolver assignmentResolver) ports.RelationshipPort {
	return &RelationshipAdapter{resolver: resolver}
}

func (a *RelationshipAdapter) IsAssigned(ctx context.Context, doctorID, patientID domain.UserID) (bool, error) {
	return a.resolver.IsAssigned(ctx, doctorID, patientID)
}

// ConsentAdapter implements ports.ConsentPort on top of the consent ledger.
// Only an active GRANT counts; REVOKE and NONE both report false.
type ConsentAdapter struct {
	ledger consentStatusReader
}

func NewConsentAdapter(ledger consentStatusReader) ports.ConsentPort {
	return &ConsentAdapter{ledger: ledger}
}

func (a *ConsentAdapter) HasConsent(ctx context.Context, userID domain.UserID, consentType domain.ConsentType) (bool, error) {
	status, err := a.ledger.CurrentStatus(ctx, userID, consentType)
	if err != nil {
		return false, err
	}
	return status.Granted(), nil
}
