// Package audit defines the append-only audit event log: the event model,
// an asynchronous ClickHouse writer, a read path addressable by correlation
// id and time range, and an in-memory store for tests and local development.
package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parallaxsec/agentgov/internal/ledger"
)

// Event types emitted by the governance engine.
const (
	TypeAgentInvocation       = "agent_invocation"
	TypeToolInvocation        = "tool_invocation"
	TypeAgentCompletion       = "agent_completion"
	TypeAgentError            = "agent_error"
	TypePolicyDecision        = "policy_decision"
	TypeAuthorizationUpdate   = "authorization_update"
	TypeIntegrationRequest    = "integration_request"
	TypeIntegrationApproved   = "integration_approved"
	TypeIntegrationDenied     = "integration_denied"
	TypeIntegrationRevoked    = "integration_revoked"
	TypeRevocationInitiated   = "revocation_initiated"
	TypeRevocationPropagated  = "revocation_propagated"
	TypeRevocationCompleted   = "revocation_completed"
	TypeRevocationFailed      = "revocation_failed"
	TypeSLABreach             = "sla_breach"
	TypeIntegrityFailure      = "integrity_failure"
	TypeEvidencePackGenerated = "evidence_pack_generated"
)

// Event is a single audit log entry. Events are write-once: no component
// rewrites a persisted event, and any post-write mutation shows up as an
// integrity hash mismatch.
type Event struct {
	ID             string
	EventType      string
	Timestamp      time.Time
	CorrelationID  string
	PrincipalChain []string
	Outcome        string
	LatencyMs      float64
	IntegrityHash  string

	// Sequence is assigned by the store at write time and breaks timestamp
	// ties during chain reconstruction. It is not covered by the hash.
	Sequence uint64
}

// NewEvent constructs a sealed audit event with a generated id and the
// current UTC timestamp.
func NewEvent(eventType, correlationID string, principalChain []string, outcome string, latencyMs float64) *Event {
	e := &Event{
		ID:             uuid.NewString(),
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
		CorrelationID:  correlationID,
		PrincipalChain: principalChain,
		Outcome:        outcome,
		LatencyMs:      latencyMs,
	}
	e.IntegrityHash = ledger.Seal(e)
	return e
}

// CanonicalFields returns the hashed fields in their fixed order.
// Timestamps are RFC 3339 nanosecond UTC, the principal chain is joined with
// commas, latency is base-10 with no trailing zeros.
func (e *Event) CanonicalFields() []string {
	return []string{
		e.ID,
		e.EventType,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.CorrelationID,
		strings.Join(e.PrincipalChain, ","),
		e.Outcome,
		strconv.FormatFloat(e.LatencyMs, 'f', -1, 64),
	}
}

// Verify recomputes the event's hash against the stored one.
func (e *Event) Verify() bool {
	return ledger.Verify(e, e.IntegrityHash)
}

// Writer appends events to the log. Append is atomic: an event is either
// fully visible with a valid hash or not visible at all.
type Writer interface {
	Append(ctx context.Context, event *Event) error
}

// Reader provides read access to the append-only log. Reads never block
// writers.
type Reader interface {
	// ByCorrelation returns every event sharing the correlation id, in
	// write order.
	ByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
	// Range returns events with from <= timestamp <= to.
	Range(ctx context.Context, from, to time.Time) ([]Event, error)
	// CountRange returns the number of events in the window without
	// materializing them.
	CountRange(ctx context.Context, from, to time.Time) (int, error)
}

// Store combines the write and read halves of the log.
type Store interface {
	Writer
	Reader
}
