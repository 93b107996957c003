package decision

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process decision store for tests and local
// development.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions []Decision
}

// NewMemoryStore creates an empty in-memory decision store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record validates and stores a copy of the decision.
func (s *MemoryStore) Record(_ context.Context, d *Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *d)
	return nil
}

// List returns matching decisions, newest first.
func (s *MemoryStore) List(_ context.Context, q Query) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Decision
	for _, d := range s.decisions {
		if matches(&d, q) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Aggregate counts matching decisions grouped by one dimension.
func (s *MemoryStore) Aggregate(_ context.Context, dim Dimension, q Query) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, d := range s.decisions {
		if !matches(&d, q) {
			continue
		}
		key, err := dimensionValue(&d, dim)
		if err != nil {
			return nil, err
		}
		counts[key]++
	}
	return counts, nil
}

func matches(d *Decision, q Query) bool {
	if q.SubjectID != nil && d.SubjectID != *q.SubjectID {
		return false
	}
	if q.Effect != nil && d.Effect != *q.Effect {
		return false
	}
	if q.Resource != nil && d.Resource != *q.Resource {
		return false
	}
	if q.Action != nil && d.Action != *q.Action {
		return false
	}
	if q.From != nil && d.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && d.Timestamp.After(*q.To) {
		return false
	}
	return true
}
