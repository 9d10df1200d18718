package service

import (
	"fmt"
	"time"

	"carekeeper/internal/records/models"
	dErrors "carekeeper/pkg/domain-errors"
)

// LegalFloorYears is the statutory minimum retention for medical records.
const LegalFloorYears = 20

// Floor rejects deletion of records younger than Years. It takes no role or
// subject: nobody can override it.
type Floor struct {
	Years int
}

// NewFloor returns a floor of years, which may extend but never shorten the
// legal minimum.
func NewFloor(years int) (Floor, error) {
	if years < LegalFloorYears {
		return Floor{}, fmt.Errorf("retention floor must be at least %d years, got %d", LegalFloorYears, years)
	}
	return Floor{Years: years}, nil
}

// ExpiresAt is the first instant the record may be deleted.
func (f Floor) ExpiresAt(r models.MedicalRecord) time.Time {
	return r.CreatedAt.AddDate(f.years(), 0, 0)
}

// Check returns CodeRetentionFloorViolation while r is inside the floor.
func (f Floor) Check(r models.MedicalRecord, now time.Time) error {
	if now.Before(f.ExpiresAt(r)) {
		return dErrors.New(dErrors.CodeRetentionFloorViolation,
			fmt.Sprintf("medical record is retained until %s", f.ExpiresAt(r).Format(time.DateOnly)))
	}
	return nil
}

func (f Floor) years() int {
	if f.Years < LegalFloorYears {
		return LegalFloorYears
	}
	return f.Years
}
