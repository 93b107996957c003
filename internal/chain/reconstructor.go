package chain

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

// template describes the causal shape rooted at one event type: which event
// types may appear in the middle and which may close the chain.
type template struct {
	intermediates map[string]bool
	terminals     map[string]bool
}

var templates = map[string]template{
	audit.TypeAgentInvocation: {
		intermediates: set(audit.TypeToolInvocation, audit.TypePolicyDecision),
		terminals:     set(audit.TypeAgentCompletion, audit.TypeAgentError),
	},
	audit.TypeIntegrationRequest: {
		intermediates: set(audit.TypePolicyDecision, audit.TypeIntegrationApproved),
		terminals:     set(audit.TypeIntegrationApproved, audit.TypeIntegrationDenied, audit.TypeIntegrationRevoked),
	},
	audit.TypeRevocationInitiated: {
		intermediates: set(audit.TypeRevocationPropagated, audit.TypeSLABreach),
		terminals:     set(audit.TypeRevocationCompleted, audit.TypeRevocationFailed),
	},
}

func set(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

// Chain is a reconstructed causal sequence for one correlation id. Events
// are ordered by timestamp, with the store-assigned sequence number breaking
// ties. Integrity failures are reported alongside the chain, never silently.
type Chain struct {
	CorrelationID   string
	Events          []audit.Event
	Complete        bool
	Issues          []string
	IntegrityFailed []string
}

// Reconstructor rebuilds chains from the audit read path.
type Reconstructor struct {
	reader audit.Reader
	logger *zap.Logger
}

// NewReconstructor creates a reconstructor over the given reader.
func NewReconstructor(reader audit.Reader, logger *zap.Logger) *Reconstructor {
	return &Reconstructor{reader: reader, logger: logger}
}

// Reconstruct fetches and orders every event for the correlation id, verifies
// each event's integrity hash, and judges the chain against the causal
// template of its root event. An incomplete or tampered chain is still
// returned, with the problems attached.
func (r *Reconstructor) Reconstruct(ctx context.Context, correlationID string) (*Chain, error) {
	events, err := r.reader.ByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("Reconstruct: %w", err)
	}
	if len(events) == 0 {
		return nil, govererr.NotFoundf("chain", correlationID)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Sequence < events[j].Sequence
	})

	c := &Chain{CorrelationID: correlationID, Events: events}
	for i := range events {
		if !events[i].Verify() {
			c.IntegrityFailed = append(c.IntegrityFailed, events[i].ID)
		}
	}
	if len(c.IntegrityFailed) > 0 {
		r.logger.Warn("chain contains tampered events",
			zap.String("correlation_id", correlationID),
			zap.Strings("event_ids", c.IntegrityFailed),
		)
	}

	c.Issues = r.judge(events)
	c.Complete = len(c.Issues) == 0 && len(c.IntegrityFailed) == 0
	return c, nil
}

// judge checks the ordered events against the causal template of the root.
func (r *Reconstructor) judge(events []audit.Event) []string {
	var issues []string

	root := events[0].EventType
	tpl, ok := templates[root]
	if !ok {
		return []string{"unrecognized_root_event:" + root}
	}

	if len(events) == 1 {
		return []string{"missing_terminal_event"}
	}
	if last := events[len(events)-1].EventType; !tpl.terminals[last] {
		issues = append(issues, "missing_terminal_event")
	}
	for _, ev := range events[1 : len(events)-1] {
		if !tpl.intermediates[ev.EventType] {
			issues = append(issues, "unexpected_event:"+ev.EventType)
		}
	}
	return issues
}
