package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

func newTestReconstructor(t *testing.T) (*Reconstructor, *audit.MemoryStore) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	events := audit.NewMemoryStore()
	return NewReconstructor(events, logger), events
}

func appendChain(t *testing.T, store *audit.MemoryStore, correlationID string, types ...string) []*audit.Event {
	t.Helper()
	ctx := context.Background()
	var out []*audit.Event
	for _, eventType := range types {
		ev := audit.NewEvent(eventType, correlationID, []string{"user-1", "agent-1"}, "success", 1.5)
		if err := store.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
		out = append(out, ev)
	}
	return out
}

func TestReconstruct_CompleteAgentChain(t *testing.T) {
	r, store := newTestReconstructor(t)
	appendChain(t, store, "trace-1",
		audit.TypeAgentInvocation,
		audit.TypeToolInvocation,
		audit.TypePolicyDecision,
		audit.TypeToolInvocation,
		audit.TypeAgentCompletion,
	)

	c, err := r.Reconstruct(context.Background(), "trace-1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Complete {
		t.Fatalf("expected a complete chain, issues=%v integrity=%v", c.Issues, c.IntegrityFailed)
	}
	if len(c.Events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(c.Events))
	}
	if c.Events[0].EventType != audit.TypeAgentInvocation {
		t.Fatalf("root must come first, got %s", c.Events[0].EventType)
	}
	if c.Events[4].EventType != audit.TypeAgentCompletion {
		t.Fatalf("terminal must come last, got %s", c.Events[4].EventType)
	}
}

func TestReconstruct_AgentErrorTerminates(t *testing.T) {
	r, store := newTestReconstructor(t)
	appendChain(t, store, "trace-err",
		audit.TypeAgentInvocation,
		audit.TypeToolInvocation,
		audit.TypeAgentError,
	)

	c, err := r.Reconstruct(context.Background(), "trace-err")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Complete {
		t.Fatalf("agent_error is a valid terminal, issues=%v", c.Issues)
	}
}

func TestReconstruct_SequenceBreaksTimestampTies(t *testing.T) {
	r, store := newTestReconstructor(t)
	events := appendChain(t, store, "trace-tie",
		audit.TypeAgentInvocation,
		audit.TypeToolInvocation,
		audit.TypeAgentCompletion,
	)

	c, err := r.Reconstruct(context.Background(), "trace-tie")
	if err != nil {
		t.Fatal(err)
	}
	// Events written in rapid succession may share a timestamp; write order
	// must survive regardless.
	for i, ev := range c.Events {
		if ev.ID != events[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, events[i].ID, ev.ID)
		}
	}
	for i := 1; i < len(c.Events); i++ {
		if c.Events[i].Sequence <= c.Events[i-1].Sequence {
			t.Fatalf("sequence must be strictly increasing in write order")
		}
	}
}

func TestReconstruct_DroppedTerminalIsIncomplete(t *testing.T) {
	r, store := newTestReconstructor(t)
	events := appendChain(t, store, "trace-gap",
		audit.TypeAgentInvocation,
		audit.TypeToolInvocation,
		audit.TypeAgentCompletion,
	)
	if !store.Drop(events[2].ID) {
		t.Fatal("drop failed")
	}

	c, err := r.Reconstruct(context.Background(), "trace-gap")
	if err != nil {
		t.Fatal(err)
	}
	if c.Complete {
		t.Fatal("a chain without its terminal event must not be complete")
	}
	found := false
	for _, issue := range c.Issues {
		if issue == "missing_terminal_event" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing_terminal_event, got %v", c.Issues)
	}
}

func TestReconstruct_TamperedEventReportedAlongsideChain(t *testing.T) {
	r, store := newTestReconstructor(t)
	events := appendChain(t, store, "trace-tamper",
		audit.TypeAgentInvocation,
		audit.TypeToolInvocation,
		audit.TypeAgentCompletion,
	)
	if !store.Tamper(events[1].ID, "forged") {
		t.Fatal("tamper failed")
	}

	c, err := r.Reconstruct(context.Background(), "trace-tamper")
	if err != nil {
		t.Fatal(err)
	}
	if c.Complete {
		t.Fatal("a tampered chain must not be complete")
	}
	if len(c.Events) != 3 {
		t.Fatalf("the chain itself must still be returned, got %d events", len(c.Events))
	}
	if len(c.IntegrityFailed) != 1 || c.IntegrityFailed[0] != events[1].ID {
		t.Fatalf("expected %s flagged, got %v", events[1].ID, c.IntegrityFailed)
	}
}

func TestReconstruct_RevocationTemplate(t *testing.T) {
	r, store := newTestReconstructor(t)
	appendChain(t, store, "trace-rev",
		audit.TypeRevocationInitiated,
		audit.TypeRevocationPropagated,
		audit.TypeRevocationPropagated,
		audit.TypeRevocationCompleted,
	)

	c, err := r.Reconstruct(context.Background(), "trace-rev")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Complete {
		t.Fatalf("expected a complete revocation chain, issues=%v", c.Issues)
	}
}

func TestReconstruct_UnexpectedIntermediate(t *testing.T) {
	r, store := newTestReconstructor(t)
	appendChain(t, store, "trace-odd",
		audit.TypeIntegrationRequest,
		audit.TypeToolInvocation,
		audit.TypeIntegrationApproved,
	)

	c, err := r.Reconstruct(context.Background(), "trace-odd")
	if err != nil {
		t.Fatal(err)
	}
	if c.Complete {
		t.Fatal("a foreign intermediate must break the template")
	}
	found := false
	for _, issue := range c.Issues {
		if strings.HasPrefix(issue, "unexpected_event:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an unexpected_event issue, got %v", c.Issues)
	}
}

func TestReconstruct_UnknownCorrelation(t *testing.T) {
	r, _ := newTestReconstructor(t)

	_, err := r.Reconstruct(context.Background(), "no-such-trace")
	if !errors.Is(err, govererr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestContextHeaderRoundTrip(t *testing.T) {
	c := New("user-1", "agent-1", "web_search")
	if len(c.TraceID) != 32 {
		t.Fatalf("expected a 32-char hex trace id, got %q", c.TraceID)
	}

	header := c.HeaderValue()
	want := "trace=" + c.TraceID + ";user=user-1;agent=agent-1;tool=web_search"
	if header != want {
		t.Fatalf("expected %q, got %q", want, header)
	}

	parsed, err := ParseHeader(header)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != c {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, c)
	}
}

func TestContextHeaderOmitsEmptyFields(t *testing.T) {
	c := Context{TraceID: "abc123"}
	if got := c.HeaderValue(); got != "trace=abc123" {
		t.Fatalf("expected bare trace header, got %q", got)
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	for _, header := range []string{"", "user=u", "trace=abc;bogus", "trace=abc;color=red"} {
		if _, err := ParseHeader(header); !errors.Is(err, govererr.ErrValidation) {
			t.Fatalf("header %q: expected validation error, got %v", header, err)
		}
	}
}
