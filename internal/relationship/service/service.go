// Package service resolves and manages care-team assignments. Every
// IsAssigned call re-reads the store; nothing is cached, so a reassignment
// takes effect on the next request.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carekeeper/internal/relationship/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/sentinel"
)

type Store interface {
	FindByPatient(ctx context.Context, patientID domain.UserID) (*models.Assignment, error)
	Upsert(ctx context.Context, a models.Assignment) error
	Delete(ctx context.Context, patientID domain.UserID) error
}

type Service struct {
	store Store
}

func New(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("assignment store is required")
	}
	return &Service{store: store}, nil
}

// IsAssigned reports whether doctorID is patientID's current doctor. A
// patient without an assignment yields false with no error; store failures
// are returned so the evaluator can deny as indeterminate.
func (s *Service) IsAssigned(ctx context.Context, doctorID, patientID domain.UserID) (bool, error) {
	if doctorID.IsNil() || patientID.IsNil() {
		return false, nil
	}
	a, err := s.store.FindByPatient(ctx, patientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve assignment: %w", err)
	}
	return a.DoctorID == doctorID, nil
}

// Current returns the patient's assignment.
func (s *Service) Current(ctx context.Context, patientID domain.UserID) (*models.Assignment, error) {
	a, err := s.store.FindByPatient(ctx, patientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "patient has no assigned doctor")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load assignment")
	}
	return a, nil
}

// Assign makes doctorID the patient's current doctor, replacing any previous
// assignment. The previous assignment (nil if none) is returned for the
// caller's audit snapshot.
func (s *Service) Assign(ctx context.Context, patientID, doctorID domain.UserID, now time.Time) (current, previous *models.Assignment, err error) {
	if patientID.IsNil() || doctorID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "patient and doctor are required")
	}
	if patientID == doctorID {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "a patient cannot be their own doctor")
	}
	previous, err = s.store.FindByPatient(ctx, patientID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load assignment")
	}
	a := models.Assignment{PatientID: patientID, DoctorID: doctorID, AssignedAt: now.UTC()}
	if err := s.store.Upsert(ctx, a); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save assignment")
	}
	return &a, previous, nil
}

// Unassign removes the patient's current assignment and returns it.
func (s *Service) Unassign(ctx context.Context, patientID domain.UserID) (*models.Assignment, error) {
	previous, err := s.Current(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, patientID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "patient has no assigned doctor")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove assignment")
	}
	return previous, nil
}
