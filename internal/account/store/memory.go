package store

import (
	"context"
	"sync"

	"carekeeper/internal/account/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[domain.UserID]models.Profile)}
}

func (s *InMemory) Get(_ context.Context, userID domain.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) Save(_ context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}
