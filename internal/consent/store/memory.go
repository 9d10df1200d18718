package store

import (
	"context"
	"sync"

	"carekeeper/internal/consent/models"
	"carekeeper/pkg/domain"
)

// InMemory is an append-only consent event log.
type InMemory struct {
	mu      sync.RWMutex
	events  map[domain.UserID][]models.Event
	nextSeq int64
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[domain.UserID][]models.Event), nextSeq: 1}
}

func (s *InMemory) Append(_ context.Context, e models.Event) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Sequence = s.nextSeq
	s.nextSeq++
	s.events[e.UserID] = append(s.events[e.UserID], e)
	return e, nil
}

func (s *InMemory) ListByUser(_ context.Context, userID domain.UserID, types ...domain.ConsentType) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.ConsentType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := make([]models.Event, 0, len(s.events[userID]))
	for _, e := range s.events[userID] {
		if len(want) == 0 || want[e.Type] {
			out = append(out, e)
		}
	}
	models.SortEvents(out)
	return out, nil
}
