package analyzer

import (
	"testing"
	"time"

	"github.com/parallaxsec/agentgov/internal/catalog"
)

func wildcards(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "svc" + string(rune('a'+i)) + ":*"
	}
	return out
}

func TestScore_ExampleScenario(t *testing.T) {
	// 100 actions, 10 wildcards, MODERATE scope: (1-0.10)*100 - 5 = 85.
	a := New(DefaultConfig())
	fp := catalog.PolicyFootprint{
		AttachedPolicyCount: 1,
		ActionCount:         100,
		WildcardActions:     wildcards(10),
		ResourceScopeWidth:  catalog.ScopeModerate,
	}

	score := a.Score(fp)
	if score != 85 {
		t.Fatalf("expected score 85, got %v", score)
	}
	if a.RiskRating(fp, false) != catalog.RiskModerate {
		t.Fatalf("expected MODERATE rating, got %s", a.RiskRating(fp, false))
	}
}

func TestScore_ScopePenalties(t *testing.T) {
	a := New(DefaultConfig())
	base := catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}

	tests := []struct {
		scope catalog.ScopeWideness
		want  float64
	}{
		{catalog.ScopeNarrow, 100},
		{catalog.ScopeModerate, 95},
		{catalog.ScopeBroad, 85},
	}
	for _, tt := range tests {
		fp := base
		fp.ResourceScopeWidth = tt.scope
		if got := a.Score(fp); got != tt.want {
			t.Fatalf("scope %s: expected %v, got %v", tt.scope, tt.want, got)
		}
	}
}

func TestConfig_ExplicitZeroPenaltyHonored(t *testing.T) {
	a := New(Config{PenaltyBroad: 15, MaterialDelta: 5})
	fp := catalog.PolicyFootprint{
		AttachedPolicyCount: 1,
		ActionCount:         10,
		ResourceScopeWidth:  catalog.ScopeModerate,
	}
	if got := a.Score(fp); got != 100 {
		t.Fatalf("a configured zero penalty must not be replaced, got %v", got)
	}
	// The zero Config still means defaults.
	if got := New(Config{}).Score(fp); got != 95 {
		t.Fatalf("zero config must score with defaults, got %v", got)
	}
}

func TestScore_ZeroActionsScoresZero(t *testing.T) {
	a := New(DefaultConfig())
	fp := catalog.PolicyFootprint{AttachedPolicyCount: 2, ActionCount: 0}
	if got := a.Score(fp); got != 0 {
		t.Fatalf("policies with no parseable actions must score 0, got %v", got)
	}
}

func TestScore_NoPoliciesScoresPerfect(t *testing.T) {
	a := New(DefaultConfig())
	fp := catalog.PolicyFootprint{}
	if got := a.Score(fp); got != 100 {
		t.Fatalf("no attached policies must score 100, got %v", got)
	}
}

func TestScore_AlwaysInRange(t *testing.T) {
	a := New(DefaultConfig())
	for actions := 1; actions <= 50; actions++ {
		for wc := 0; wc <= actions && wc < 26; wc++ {
			for _, scope := range []catalog.ScopeWideness{catalog.ScopeNarrow, catalog.ScopeModerate, catalog.ScopeBroad} {
				fp := catalog.PolicyFootprint{
					AttachedPolicyCount: 1,
					ActionCount:         actions,
					WildcardActions:     wildcards(wc),
					ResourceScopeWidth:  scope,
				}
				score := a.Score(fp)
				if score < 0 || score > 100 {
					t.Fatalf("score out of range: actions=%d wildcards=%d scope=%s score=%v",
						actions, wc, scope, score)
				}
			}
		}
	}
}

func TestRiskRating_Deterministic(t *testing.T) {
	a := New(DefaultConfig())
	fp := catalog.PolicyFootprint{
		AttachedPolicyCount: 1,
		ActionCount:         60,
		WildcardActions:     wildcards(1),
		ResourceScopeWidth:  catalog.ScopeModerate,
	}

	first := a.RiskRating(fp, false)
	for range 20 {
		if got := a.RiskRating(fp, false); got != first {
			t.Fatalf("rating not deterministic: %s then %s", first, got)
		}
	}
}

func TestRiskRating_Tiers(t *testing.T) {
	a := New(DefaultConfig())

	lowFP := catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 100, ResourceScopeWidth: catalog.ScopeNarrow}
	if got := a.RiskRating(lowFP, false); got != catalog.RiskLow {
		t.Fatalf("expected LOW, got %s", got)
	}

	// Same footprint on an inactive principal can no longer be LOW.
	if got := a.RiskRating(lowFP, true); got != catalog.RiskModerate {
		t.Fatalf("inactive principal cannot be LOW, got %s", got)
	}

	highFP := catalog.PolicyFootprint{
		AttachedPolicyCount: 1,
		ActionCount:         10,
		WildcardActions:     wildcards(6),
		ResourceScopeWidth:  catalog.ScopeBroad,
	}
	if got := a.RiskRating(highFP, false); got != catalog.RiskHigh {
		t.Fatalf("expected HIGH for score < 60, got %s", got)
	}

	// Wildcard present and inactive is HIGH regardless of score.
	wildFP := catalog.PolicyFootprint{
		AttachedPolicyCount: 1,
		ActionCount:         100,
		WildcardActions:     wildcards(1),
		ResourceScopeWidth:  catalog.ScopeNarrow,
	}
	if got := a.RiskRating(wildFP, true); got != catalog.RiskHigh {
		t.Fatalf("expected HIGH for unused wildcard grant, got %s", got)
	}
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	a := New(DefaultConfig())
	snap := &catalog.Snapshot{
		GeneratedAt: time.Now().UTC(),
		Principals: []catalog.Principal{{
			ID:        "p1",
			Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10},
		}},
	}

	scored := a.Evaluate(snap)
	if scored.Principals[0].Footprint.LeastPrivilegeScore != 100 {
		t.Fatalf("expected scored copy, got %v", scored.Principals[0].Footprint.LeastPrivilegeScore)
	}
	if snap.Principals[0].Footprint.LeastPrivilegeScore != 0 {
		t.Fatal("input snapshot must not be mutated")
	}
	if snap.Principals[0].RiskRating != "" {
		t.Fatal("input snapshot must not be mutated")
	}
}

func TestConformance(t *testing.T) {
	a := New(DefaultConfig())
	snap := &catalog.Snapshot{Principals: []catalog.Principal{
		{ID: "p1", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}},
		{ID: "p2", Orphan: true, Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10, ResourceScopeWidth: catalog.ScopeModerate}},
		{ID: "p3", Inactive: true, Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 4, WildcardActions: wildcards(3), ResourceScopeWidth: catalog.ScopeBroad}},
	}}

	m := a.Conformance(snap)
	if m.TotalPrincipals != 3 {
		t.Fatalf("expected 3 principals, got %d", m.TotalPrincipals)
	}
	// Scores: 100, 95, 10 → mean 68.333...
	want := (100.0 + 95.0 + 10.0) / 3.0
	if m.ConformanceScore != want {
		t.Fatalf("expected conformance %v, got %v", want, m.ConformanceScore)
	}
	if m.OrphanCount != 1 || m.OrphanRate != 1.0/3.0 {
		t.Fatalf("unexpected orphan metrics: %+v", m)
	}
	if m.HighRiskCount != 1 {
		t.Fatalf("expected 1 high-risk principal, got %d", m.HighRiskCount)
	}
}

func TestConformance_EmptySnapshot(t *testing.T) {
	a := New(DefaultConfig())
	m := a.Conformance(&catalog.Snapshot{})
	if m.ConformanceScore != 0 || m.OrphanRate != 0 {
		t.Fatalf("empty snapshot must yield zero metrics, got %+v", m)
	}
}

func TestChangeReport(t *testing.T) {
	a := New(DefaultConfig())

	before := &catalog.Snapshot{Principals: []catalog.Principal{
		{ID: "kept-stable", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}},
		{ID: "kept-drifted", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}},
		{ID: "removed", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}},
	}}
	after := &catalog.Snapshot{Principals: []catalog.Principal{
		{ID: "kept-stable", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10, ResourceScopeWidth: catalog.ScopeModerate}},
		{ID: "kept-drifted", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10, WildcardActions: wildcards(2), ResourceScopeWidth: catalog.ScopeBroad}},
		{ID: "added", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 5}},
	}}

	report := a.ChangeReport(before, after)

	if len(report.Added) != 1 || report.Added[0] != "added" {
		t.Fatalf("unexpected added set: %v", report.Added)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "removed" {
		t.Fatalf("unexpected removed set: %v", report.Removed)
	}
	// kept-stable drifted 100→95: below the ±5 material threshold.
	// kept-drifted drifted 100→65: material.
	if len(report.Deltas) != 1 || report.Deltas[0].PrincipalID != "kept-drifted" {
		t.Fatalf("unexpected deltas: %+v", report.Deltas)
	}
	if report.Deltas[0].Before != 100 || report.Deltas[0].After != 65 {
		t.Fatalf("unexpected delta scores: %+v", report.Deltas[0])
	}
	if report.Timestamp.IsZero() {
		t.Fatal("report must carry a timestamp")
	}
}

func TestChangeReport_IdenticalSnapshotsEmpty(t *testing.T) {
	a := New(DefaultConfig())
	snap := &catalog.Snapshot{Principals: []catalog.Principal{
		{ID: "p1", Footprint: catalog.PolicyFootprint{AttachedPolicyCount: 1, ActionCount: 10}},
	}}

	report := a.ChangeReport(snap, snap)
	if len(report.Added) != 0 || len(report.Removed) != 0 || len(report.Deltas) != 0 {
		t.Fatalf("identical snapshots must produce an empty report: %+v", report)
	}
}
