// Package memory is an in-process audit store for tests and single-node
// development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"carekeeper/pkg/platform/audit"
)

// Store keeps records in insertion order. Sequence numbers start at 1.
type Store struct {
	mu      sync.RWMutex
	records []audit.Record
	nextSeq int64
}

func New() *Store {
	return &Store{nextSeq: 1}
}

func (s *Store) Append(_ context.Context, r audit.Record) (audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Sequence = s.nextSeq
	s.nextSeq++
	s.records = append(s.records, r)
	return r, nil
}

func (s *Store) Query(_ context.Context, f audit.Filter) ([]audit.Record, error) {
	s.mu.RLock()
	out := make([]audit.Record, 0)
	for _, r := range s.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sortRecords(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Range(_ context.Context, from, to time.Time, afterSeq int64, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Record, 0)
	for _, r := range s.records {
		if r.Sequence <= afterSeq || r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every record ordered by (Timestamp, Sequence). Tests only.
func (s *Store) All() []audit.Record {
	s.mu.RLock()
	out := append([]audit.Record(nil), s.records...)
	s.mu.RUnlock()
	sortRecords(out)
	return out
}

func sortRecords(rs []audit.Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].Sequence < rs[j].Sequence
	})
}
