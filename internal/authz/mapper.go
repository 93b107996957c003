package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/classification"
	"github.com/parallaxsec/agentgov/internal/decision"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Deny reasons returned by authorization checks.
const (
	ReasonToolNotAuthorized = "tool_not_authorized"
	ReasonToolNotActive     = "tool_not_active"
	ReasonApprovalRequired  = "approval_required"
)

const policyReference = "authz-mapper"

// DifferentialReport describes one allow-list mutation.
type DifferentialReport struct {
	AgentID   string
	Added     []string
	Removed   []string
	Timestamp time.Time
}

// Empty reports whether the mutation changed nothing.
func (r *DifferentialReport) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Mapper is the exclusive owner of the live authorization mapping and the
// only writer of tool-access policy decisions. Mutations to the same agent
// are serialized; different agents never block each other.
type Mapper struct {
	store     MappingStore
	tools     ToolResolver
	decisions decision.Sink
	events    audit.Writer
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMapper creates a mapper over the given store and collaborators.
func NewMapper(store MappingStore, tools ToolResolver, decisions decision.Sink, events audit.Writer, logger *zap.Logger) *Mapper {
	return &Mapper{
		store:     store,
		tools:     tools,
		decisions: decisions,
		events:    events,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// agentLock returns the critical-section lock for one agent id.
func (m *Mapper) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[agentID] = lock
	}
	return lock
}

// SetAuthorizedTools atomically replaces an agent's allow-list and returns
// the differential against the prior mapping. Tools gaining SENSITIVE
// classification require a pre-existing approval record; without one the
// whole call fails with govererr.ErrApprovalRequired and no partial effect.
func (m *Mapper) SetAuthorizedTools(ctx context.Context, agentID string, tools []string, reason, correlationID string) (*DifferentialReport, error) {
	start := time.Now()
	if agentID == "" {
		return nil, govererr.Validationf("agent id is required")
	}
	if reason == "" {
		return nil, govererr.Validationf("reason is required")
	}
	tools = dedupe(tools)

	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	prior, err := m.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("SetAuthorizedTools: %w", err)
	}

	report := diff(agentID, prior, tools)

	// Sensitivity gate runs before any state change.
	for _, toolID := range report.Added {
		info, err := m.tools.ResolveTool(ctx, toolID)
		if err != nil {
			return nil, fmt.Errorf("SetAuthorizedTools: %w", err)
		}
		if info != nil && info.Classification == classification.LevelSensitive && info.Approval == nil {
			return nil, fmt.Errorf("%w: tool %q", govererr.ErrApprovalRequired, toolID)
		}
	}

	if err := m.store.Put(ctx, agentID, tools); err != nil {
		return nil, fmt.Errorf("SetAuthorizedTools: %w", err)
	}

	d := decision.New(decision.SubjectAgent, agentID, "set_authorized_tools",
		"agent://"+agentID, decision.EffectAllow, policyReference, correlationID, reason)
	if err := m.decisions.Record(ctx, d); err != nil {
		m.logger.Error("record decision failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	event := audit.NewEvent(audit.TypeAuthorizationUpdate, correlationID,
		[]string{agentID}, "success", float64(time.Since(start).Microseconds())/1000)
	if err := m.events.Append(ctx, event); err != nil {
		m.logger.Error("append audit event failed", zap.String("agent_id", agentID), zap.Error(err))
	}

	m.logger.Info("authorized tools updated",
		zap.String("agent_id", agentID),
		zap.Strings("added", report.Added),
		zap.Strings("removed", report.Removed),
	)
	return report, nil
}

// CheckToolAuthorized performs a deterministic authorization lookup and
// records the resulting policy decision.
func (m *Mapper) CheckToolAuthorized(ctx context.Context, agentID, toolID, correlationID string) (*decision.Decision, error) {
	current, err := m.store.Get(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("CheckToolAuthorized: %w", err)
	}

	effect, reason := decision.EffectAllow, ""
	if !contains(current, toolID) {
		effect, reason = decision.EffectDeny, ReasonToolNotAuthorized
	} else {
		info, err := m.tools.ResolveTool(ctx, toolID)
		if err != nil {
			return nil, fmt.Errorf("CheckToolAuthorized: %w", err)
		}
		switch {
		case info == nil:
			// Unregistered tools carry no classification and gate nothing.
		case info.Status != ToolActive:
			effect, reason = decision.EffectDeny, ReasonToolNotActive
		case info.Classification == classification.LevelSensitive && info.Approval == nil:
			effect, reason = decision.EffectDeny, ReasonApprovalRequired
		}
	}

	d := decision.New(decision.SubjectAgent, agentID, "check_tool_authorized",
		"tool://"+toolID, effect, policyReference, correlationID, reason)
	if err := m.decisions.Record(ctx, d); err != nil {
		m.logger.Error("record decision failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	return d, nil
}

// CleanupDeprecatedTools removes the tool from every agent's allow-list and
// records one policy decision per affected agent. Returns the number of
// agents touched.
func (m *Mapper) CleanupDeprecatedTools(ctx context.Context, toolID string, deprecationDate time.Time, correlationID string) (int, error) {
	start := time.Now()
	agents, err := m.store.Agents(ctx)
	if err != nil {
		return 0, fmt.Errorf("CleanupDeprecatedTools: %w", err)
	}
	sort.Strings(agents)

	affected := 0
	for _, agentID := range agents {
		lock := m.agentLock(agentID)
		lock.Lock()

		current, err := m.store.Get(ctx, agentID)
		if err != nil {
			lock.Unlock()
			return affected, fmt.Errorf("CleanupDeprecatedTools: %w", err)
		}
		if !contains(current, toolID) {
			lock.Unlock()
			continue
		}

		next := make([]string, 0, len(current)-1)
		for _, t := range current {
			if t != toolID {
				next = append(next, t)
			}
		}
		if err := m.store.Put(ctx, agentID, next); err != nil {
			lock.Unlock()
			return affected, fmt.Errorf("CleanupDeprecatedTools: %w", err)
		}
		lock.Unlock()
		affected++

		d := decision.New(decision.SubjectAgent, agentID, "cleanup_deprecated_tools",
			"tool://"+toolID, decision.EffectAllow, policyReference, correlationID,
			"tool deprecated "+deprecationDate.UTC().Format(time.RFC3339))
		if err := m.decisions.Record(ctx, d); err != nil {
			m.logger.Error("record decision failed", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	event := audit.NewEvent(audit.TypeAuthorizationUpdate, correlationID,
		[]string{"tool:" + toolID}, "success", float64(time.Since(start).Microseconds())/1000)
	if err := m.events.Append(ctx, event); err != nil {
		m.logger.Error("append audit event failed", zap.String("tool_id", toolID), zap.Error(err))
	}

	m.logger.Info("deprecated tool swept",
		zap.String("tool_id", toolID),
		zap.Int("agents_affected", affected),
	)
	return affected, nil
}

func diff(agentID string, prior, next []string) *DifferentialReport {
	report := &DifferentialReport{AgentID: agentID, Timestamp: time.Now().UTC()}

	prev := make(map[string]struct{}, len(prior))
	for _, t := range prior {
		prev[t] = struct{}{}
	}
	curr := make(map[string]struct{}, len(next))
	for _, t := range next {
		curr[t] = struct{}{}
	}

	for _, t := range next {
		if _, ok := prev[t]; !ok {
			report.Added = append(report.Added, t)
		}
	}
	for _, t := range prior {
		if _, ok := curr[t]; !ok {
			report.Removed = append(report.Removed, t)
		}
	}
	return report
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(tools []string) []string {
	seen := make(map[string]struct{}, len(tools))
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func contains(tools []string, toolID string) bool {
	for _, t := range tools {
		if t == toolID {
			return true
		}
	}
	return false
}
