package integration

import (
	"context"
	"sync"
)

// MemoryStore is an in-process integration store for tests and local
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Integration
}

// NewMemoryStore creates an empty in-memory integration store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Integration)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	integ, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *integ
	cp.ApprovedTargets = append([]string(nil), integ.ApprovedTargets...)
	if integ.ExpiresAt != nil {
		expires := *integ.ExpiresAt
		cp.ExpiresAt = &expires
	}
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, integ *Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *integ
	cp.ApprovedTargets = append([]string(nil), integ.ApprovedTargets...)
	if integ.ExpiresAt != nil {
		expires := *integ.ExpiresAt
		cp.ExpiresAt = &expires
	}
	s.records[integ.ID] = &cp
	return nil
}
