package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

func strptr(s string) *string { return &s }

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()

	records := []*Decision{
		New(SubjectAgent, "agent-1", "invoke_tool", "tool://send_email", EffectAllow, "authz-mapper", "corr-1", ""),
		New(SubjectAgent, "agent-1", "invoke_tool", "tool://delete_records", EffectDeny, "authz-mapper", "corr-1", "tool_not_authorized"),
		New(SubjectAgent, "agent-2", "invoke_tool", "tool://send_email", EffectAllow, "authz-mapper", "corr-2", ""),
		New(SubjectIntegration, "integ-1", "call_target", "https://api.example.com", EffectDeny, "integration-workflow", "corr-3", "target_not_approved"),
	}
	for _, d := range records {
		if err := store.Record(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestRecord_DenyRequiresReason(t *testing.T) {
	store := NewMemoryStore()
	d := New(SubjectAgent, "agent-1", "invoke_tool", "tool://x", EffectDeny, "authz-mapper", "corr-1", "")

	err := store.Record(context.Background(), d)
	if !errors.Is(err, govererr.ErrValidation) {
		t.Fatalf("expected validation error for deny without reason, got %v", err)
	}

	listed, err := store.List(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Fatal("rejected decision must not be stored")
	}
}

func TestRecord_UnknownEffect(t *testing.T) {
	store := NewMemoryStore()
	d := New(SubjectAgent, "agent-1", "invoke_tool", "tool://x", "maybe", "authz-mapper", "corr-1", "")

	if err := store.Record(context.Background(), d); !errors.Is(err, govererr.ErrValidation) {
		t.Fatalf("expected validation error for unknown effect, got %v", err)
	}
}

func TestList_FilterBySubjectAndEffect(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	out, err := store.List(ctx, Query{SubjectID: strptr("agent-1")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 decisions for agent-1, got %d", len(out))
	}

	out, err = store.List(ctx, Query{SubjectID: strptr("agent-1"), Effect: strptr(EffectDeny)})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Reason != "tool_not_authorized" {
		t.Fatalf("unexpected deny list: %+v", out)
	}
}

func TestList_FilterByResourceAndAction(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	out, err := store.List(ctx, Query{Resource: strptr("tool://send_email")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 decisions for send_email, got %d", len(out))
	}

	out, err = store.List(ctx, Query{Action: strptr("call_target")})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].SubjectID != "integ-1" {
		t.Fatalf("unexpected action filter result: %+v", out)
	}
}

func TestAggregate_ByEffect(t *testing.T) {
	store := seedStore(t)

	counts, err := store.Aggregate(context.Background(), ByEffect, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if counts[EffectAllow] != 2 || counts[EffectDeny] != 2 {
		t.Fatalf("unexpected effect counts: %v", counts)
	}
}

func TestAggregate_BySubject(t *testing.T) {
	store := seedStore(t)

	counts, err := store.Aggregate(context.Background(), BySubject, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if counts["agent-1"] != 2 || counts["agent-2"] != 1 || counts["integ-1"] != 1 {
		t.Fatalf("unexpected subject counts: %v", counts)
	}
}

func TestAggregate_UnknownDimension(t *testing.T) {
	store := seedStore(t)

	if _, err := store.Aggregate(context.Background(), Dimension("reason"), Query{}); err == nil {
		t.Fatal("expected error for unknown dimension")
	}
}
