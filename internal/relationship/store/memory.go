package store

import (
	"context"
	"sync"

	"carekeeper/internal/relationship/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
)

// InMemory keeps one assignment per patient.
type InMemory struct {
	mu          sync.RWMutex
	assignments map[domain.UserID]models.Assignment
}

func NewInMemory() *InMemory {
	return &InMemory{assignments: make(map[domain.UserID]models.Assignment)}
}

func (s *InMemory) FindByPatient(_ context.Context, patientID domain.UserID) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[patientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *InMemory) Upsert(_ context.Context, a models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.PatientID] = a
	return nil
}

func (s *InMemory) Delete(_ context.Context, patientID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[patientID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.assignments, patientID)
	return nil
}
