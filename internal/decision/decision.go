// Package decision defines the PolicyDecision stream: the record model, a
// sink for recording decisions, and query/aggregation over recorded ones.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Effects of a policy decision.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Subject types a decision can reference.
const (
	SubjectAgent       = "agent"
	SubjectIntegration = "integration"
	SubjectTool        = "tool"
	SubjectPrincipal   = "principal"
	SubjectUser        = "user"
)

// Decision is one immutable policy decision record.
type Decision struct {
	ID              string
	Timestamp       time.Time
	SubjectType     string
	SubjectID       string
	Action          string
	Resource        string
	Effect          string
	PolicyReference string
	CorrelationID   string
	Reason          string
}

// New constructs a decision with a generated id and current UTC timestamp.
func New(subjectType, subjectID, action, resource, effect, policyRef, correlationID, reason string) *Decision {
	return &Decision{
		ID:              uuid.NewString(),
		Timestamp:       time.Now().UTC(),
		SubjectType:     subjectType,
		SubjectID:       subjectID,
		Action:          action,
		Resource:        resource,
		Effect:          effect,
		PolicyReference: policyRef,
		CorrelationID:   correlationID,
		Reason:          reason,
	}
}

// Validate enforces record invariants: a deny must always carry a reason.
func (d *Decision) Validate() error {
	if d.Effect != EffectAllow && d.Effect != EffectDeny {
		return govererr.Validationf("unknown effect %q", d.Effect)
	}
	if d.Effect == EffectDeny && d.Reason == "" {
		return govererr.Validationf("deny decision without reason")
	}
	return nil
}

// Sink records decisions.
type Sink interface {
	Record(ctx context.Context, d *Decision) error
}

// Query filters the decision stream. Nil fields match everything.
type Query struct {
	SubjectID *string
	Effect    *string
	Resource  *string
	Action    *string
	From      *time.Time
	To        *time.Time
}

// Dimension selects the grouping axis for aggregation.
type Dimension string

const (
	BySubject  Dimension = "subject_id"
	ByEffect   Dimension = "effect"
	ByResource Dimension = "resource"
	ByAction   Dimension = "action"
)

// Store is a queryable decision sink.
type Store interface {
	Sink
	// List returns decisions matching the query, newest first.
	List(ctx context.Context, q Query) ([]Decision, error)
	// Aggregate counts matching decisions grouped by one dimension.
	Aggregate(ctx context.Context, dim Dimension, q Query) (map[string]int, error)
}

func dimensionValue(d *Decision, dim Dimension) (string, error) {
	switch dim {
	case BySubject:
		return d.SubjectID, nil
	case ByEffect:
		return d.Effect, nil
	case ByResource:
		return d.Resource, nil
	case ByAction:
		return d.Action, nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", govererr.ErrValidation, dim)
	}
}
