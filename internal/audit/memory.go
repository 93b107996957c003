package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process append-only event log. Used in tests and as
// the fallback when no ClickHouse DSN is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	seq    uint64
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append assigns the next sequence number and stores a copy of the event.
// The copy makes the stored record immune to later caller-side mutation.
func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Sequence = s.seq

	stored := *event
	stored.PrincipalChain = append([]string(nil), event.PrincipalChain...)
	s.events = append(s.events, stored)
	return nil
}

// ByCorrelation returns every stored event sharing the correlation id.
func (s *MemoryStore) ByCorrelation(_ context.Context, correlationID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Range returns events with from <= timestamp <= to.
func (s *MemoryStore) Range(_ context.Context, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountRange returns the number of events in the window.
func (s *MemoryStore) CountRange(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.events {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			n++
		}
	}
	return n, nil
}

// Tamper overwrites a stored event's outcome in place. Test helper for
// exercising integrity detection; production code never mutates the log.
func (s *MemoryStore) Tamper(eventID, outcome string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events[i].Outcome = outcome
			return true
		}
	}
	return false
}

// Drop removes a stored event. Test helper for simulating withheld events.
func (s *MemoryStore) Drop(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID == eventID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return true
		}
	}
	return false
}
