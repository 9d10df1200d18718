package store

import (
	"context"
	"sort"
	"sync"

	"carekeeper/internal/records/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	records map[domain.RecordID]models.MedicalRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[domain.RecordID]models.MedicalRecord)}
}

func (s *InMemory) Create(_ context.Context, r models.MedicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return sentinel.ErrConflict
	}
	s.records[r.ID] = r
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.RecordID) (*models.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemory) ListByPatient(_ context.Context, patientID domain.UserID, t domain.ResourceType) ([]models.MedicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MedicalRecord, 0)
	for _, r := range s.records {
		if r.PatientID == patientID && r.Type == t {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Update(_ context.Context, r models.MedicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.records[r.ID] = r
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, id)
	return nil
}
