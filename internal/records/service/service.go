// Package service stores clinical content and enforces the retention floor
// on deletion. Authorization happens before these methods are called; the
// floor does not depend on who is calling.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carekeeper/internal/records/models"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
	"carekeeper/pkg/platform/sentinel"
)

const maxContentBytes = 256 << 10

type Store interface {
	Create(ctx context.Context, r models.MedicalRecord) error
	Get(ctx context.Context, id domain.RecordID) (*models.MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID domain.UserID, t domain.ResourceType) ([]models.MedicalRecord, error)
	Update(ctx context.Context, r models.MedicalRecord) error
	Delete(ctx context.Context, id domain.RecordID) error
}

type Service struct {
	store  Store
	floor  Floor
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithFloor(f Floor) Option {
	return func(s *Service) { s.floor = f }
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("records store is required")
	}
	s := &Service{store: store, floor: Floor{Years: LegalFloorYears}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput is what a caller supplies to create a record.
type CreateInput struct {
	PatientID        domain.UserID
	Type             domain.ResourceType
	AuthorID         domain.UserID
	VisibleToPatient bool
	Content          json.RawMessage
}

func (s *Service) Create(ctx context.Context, in CreateInput, now time.Time) (*models.MedicalRecord, error) {
	if in.PatientID.IsNil() || in.AuthorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "patient and author are required")
	}
	if !in.Type.IsClinical() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "medical records must have a clinical type")
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	at := now.UTC()
	r := models.MedicalRecord{
		ID:               domain.NewRecordID(),
		PatientID:        in.PatientID,
		Type:             in.Type,
		AuthorID:         in.AuthorID,
		VisibleToPatient: in.VisibleToPatient,
		Content:          in.Content,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create medical record")
	}
	return &r, nil
}

func (s *Service) Get(ctx context.Context, id domain.RecordID) (*models.MedicalRecord, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "medical record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load medical record")
	}
	return r, nil
}

func (s *Service) List(ctx context.Context, patientID domain.UserID, t domain.ResourceType) ([]models.MedicalRecord, error) {
	records, err := s.store.ListByPatient(ctx, patientID, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list medical records")
	}
	return records, nil
}

// UpdateContent replaces a record's content and visibility.
func (s *Service) UpdateContent(ctx context.Context, id domain.RecordID, content json.RawMessage, visible bool, now time.Time) (*models.MedicalRecord, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Content = content
	r.VisibleToPatient = visible
	r.UpdatedAt = now.UTC()
	if err := s.store.Update(ctx, *r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update medical record")
	}
	return r, nil
}

// Delete hard-deletes a record once it is past the retention floor.
func (s *Service) Delete(ctx context.Context, id domain.RecordID, now time.Time) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.floor.Check(*r, now); err != nil {
		s.logger.WarnContext(ctx, "medical record deletion blocked by retention floor",
			"record_id", id,
			"created_at", r.CreatedAt,
		)
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "medical record not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete medical record")
	}
	return nil
}

func validateContent(content json.RawMessage) error {
	if len(content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "content is required")
	}
	if len(content) > maxContentBytes {
		return dErrors.New(dErrors.CodeValidation, "content is too large")
	}
	if !json.Valid(content) {
		return dErrors.New(dErrors.CodeValidation, "content must be valid JSON")
	}
	return nil
}
