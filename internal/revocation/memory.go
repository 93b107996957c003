package revocation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process revocation store for tests and local
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Revocation
}

// NewMemoryStore creates an empty in-memory revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Revocation)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Revocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return copyRevocation(rev), nil
}

func (s *MemoryStore) Put(_ context.Context, rev *Revocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rev.ID] = copyRevocation(rev)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Revocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Revocation, 0, len(s.records))
	for _, rev := range s.records {
		out = append(out, copyRevocation(rev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	return out, nil
}

func copyRevocation(rev *Revocation) *Revocation {
	cp := *rev
	cp.Targets = append([]string(nil), rev.Targets...)
	cp.Results = append([]TargetResult(nil), rev.Results...)
	if rev.CompletedAt != nil {
		completed := *rev.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
