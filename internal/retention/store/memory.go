package store

import (
	"context"
	"sort"
	"sync"

	"carekeeper/internal/retention/models"
	"carekeeper/pkg/domain"
	"carekeeper/pkg/platform/sentinel"
)

// InMemory keeps lifecycle rows in a map guarded by a mutex; Update is a
// compare-and-swap on (state, version).
type InMemory struct {
	mu       sync.RWMutex
	accounts map[domain.UserID]models.Account
}

func NewInMemory() *InMemory {
	return &InMemory{accounts: make(map[domain.UserID]models.Account)}
}

func (s *InMemory) Create(_ context.Context, a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.UserID]; ok {
		return sentinel.ErrConflict
	}
	a.Version = 1
	s.accounts[a.UserID] = a
	return nil
}

func (s *InMemory) Get(_ context.Context, userID domain.UserID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *InMemory) Update(_ context.Context, expectedState models.State, expectedVersion int64, next models.Account) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[next.UserID]
	if !ok {
		return models.Account{}, sentinel.ErrNotFound
	}
	if cur.State != expectedState || cur.Version != expectedVersion {
		return models.Account{}, sentinel.ErrConflict
	}
	next.Version = expectedVersion + 1
	next.CreatedAt = cur.CreatedAt
	s.accounts[next.UserID] = next
	return next, nil
}

func (s *InMemory) ListByState(_ context.Context, states ...models.State) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[models.State]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	out := make([]models.Account, 0)
	for _, a := range s.accounts {
		if want[a.State] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}
