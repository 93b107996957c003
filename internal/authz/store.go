// Package authz owns the live agent-to-tool authorization mapping: atomic
// allow-list replacement with differential reports, sensitivity gating, and
// deterministic authorization checks.
package authz

import (
	"context"
	"sync"
	"time"

	"github.com/parallaxsec/agentgov/internal/classification"
)

// ToolStatus transitions are monotonic: active → deprecated → revoked.
type ToolStatus string

const (
	ToolActive     ToolStatus = "active"
	ToolDeprecated ToolStatus = "deprecated"
	ToolRevoked    ToolStatus = "revoked"
)

// ApprovalRecord documents the approval of a sensitive tool. Immutable once
// created.
type ApprovalRecord struct {
	ID            string
	ApprovedBy    string
	ApprovedAt    time.Time
	Justification string
	Scope         string
}

// ToolInfo is the mapper's view of one tool: status, sensitivity, and the
// approval record, if any.
type ToolInfo struct {
	ID             string
	Classification classification.Level
	Status         ToolStatus
	Approval       *ApprovalRecord
}

// ToolResolver resolves tool ids to their current state. Returns nil for an
// unregistered tool (unregistered tool path, no error).
type ToolResolver interface {
	ResolveTool(ctx context.Context, toolID string) (*ToolInfo, error)
}

// StaticResolver serves a fixed tool table. Used in tests.
type StaticResolver struct {
	Tools map[string]*ToolInfo
}

func (r *StaticResolver) ResolveTool(_ context.Context, toolID string) (*ToolInfo, error) {
	return r.Tools[toolID], nil
}

// RegistryResolver derives tool state from the classification registry:
// registered tools are active, and an approval reference in the registry
// stands in as the approval record.
type RegistryResolver struct {
	Registry *classification.Registry
}

func (r *RegistryResolver) ResolveTool(_ context.Context, toolID string) (*ToolInfo, error) {
	entry := r.Registry.Lookup(toolID)
	if entry == nil {
		return nil, nil
	}
	info := &ToolInfo{
		ID:             entry.ID,
		Classification: entry.Classification,
		Status:         ToolActive,
	}
	if entry.ApprovalReference != "" {
		info.Approval = &ApprovalRecord{
			ID:            entry.ApprovalReference,
			ApprovedBy:    entry.Owner,
			Justification: entry.Justification,
			Scope:         entry.ID,
		}
	}
	return info, nil
}

// MappingStore persists the per-agent allow-lists. One row per agent,
// replaced atomically.
type MappingStore interface {
	// Get returns the agent's allow-list, or nil if the agent has none.
	Get(ctx context.Context, agentID string) ([]string, error)
	// Put replaces the agent's allow-list.
	Put(ctx context.Context, agentID string, tools []string) error
	// Agents lists every agent with a stored allow-list.
	Agents(ctx context.Context) ([]string, error)
}

// MemoryMappingStore is an in-process mapping store for tests and local
// development.
type MemoryMappingStore struct {
	mu       sync.RWMutex
	mappings map[string][]string
}

// NewMemoryMappingStore creates an empty in-memory mapping store.
func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{mappings: make(map[string][]string)}
}

func (s *MemoryMappingStore) Get(_ context.Context, agentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools, ok := s.mappings[agentID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), tools...), nil
}

func (s *MemoryMappingStore) Put(_ context.Context, agentID string, tools []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[agentID] = append([]string(nil), tools...)
	return nil
}

func (s *MemoryMappingStore) Agents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agents := make([]string, 0, len(s.mappings))
	for id := range s.mappings {
		agents = append(agents, id)
	}
	return agents, nil
}
