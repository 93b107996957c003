package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/analyzer"
	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/catalog"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

func testDirectory() *catalog.StaticDirectory {
	used := time.Now().UTC().Add(-24 * time.Hour)
	return &catalog.StaticDirectory{Records: []catalog.Record{
		{
			ID:          "agent-exec-1",
			Type:        "execution_role",
			Environment: "production",
			Tags:        map[string]string{"Owner": "platform-team", "Purpose": "order processing"},
			LastUsedAt:  &used,
			Policies: []catalog.PolicyDocument{
				{Actions: []string{"orders:Read", "orders:Write"}, Resources: []string{"orders/*"}},
			},
		},
		{
			ID:          "tool-search-1",
			Type:        "tool_identity",
			Environment: "production",
			Tags:        map[string]string{"Owner": "search-team", "Purpose": "web search"},
			LastUsedAt:  &used,
			Policies: []catalog.PolicyDocument{
				{Actions: []string{"search:Query"}, Resources: []string{"indexes/web"}},
			},
		},
	}}
}

func newTestBuilder(t *testing.T, cfg Config) (*Builder, *audit.MemoryStore) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	events := audit.NewMemoryStore()
	agg := catalog.NewAggregator(testDirectory(), catalog.DefaultConfig(), logger)
	b := NewBuilder(cfg, agg, analyzer.New(analyzer.Config{}), events, events, logger)
	return b, events
}

func seedEvents(t *testing.T, store *audit.MemoryStore, n int) {
	t.Helper()
	ctx := context.Background()
	for range n {
		ev := audit.NewEvent(audit.TypePolicyDecision, "corr-seed", []string{"agent-1"}, "success", 0.5)
		if err := store.Append(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerate_PackContents(t *testing.T) {
	b, events := newTestBuilder(t, Config{})
	seedEvents(t, events, 10)

	pack, err := b.Generate(context.Background(), "production", 24, true, "corr-pack")
	if err != nil {
		t.Fatal(err)
	}

	if len(pack.Snapshot.Principals) != 2 {
		t.Fatalf("expected 2 principals, got %d", len(pack.Snapshot.Principals))
	}
	for _, p := range pack.Snapshot.Principals {
		if p.Footprint.LeastPrivilegeScore == 0 {
			t.Fatalf("principal %s must be scored", p.ID)
		}
	}
	// Seeded events plus nothing else in the window.
	if len(pack.Events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(pack.Events))
	}
	if pack.Metrics == nil || pack.Metrics.TotalPrincipals != 2 {
		t.Fatalf("expected conformance metrics over 2 principals, got %+v", pack.Metrics)
	}
	if pack.Window.Narrowed {
		t.Fatal("10 events must not trigger narrowing")
	}
	if pack.Digest == "" || !pack.Verify() {
		t.Fatal("pack must carry a verifiable digest")
	}
}

func TestGenerate_ConformanceIsMeanScore(t *testing.T) {
	b, _ := newTestBuilder(t, Config{})

	pack, err := b.Generate(context.Background(), "production", 1, true, "corr-1")
	if err != nil {
		t.Fatal(err)
	}

	var sum float64
	for _, p := range pack.Snapshot.Principals {
		sum += p.Footprint.LeastPrivilegeScore
	}
	want := sum / float64(len(pack.Snapshot.Principals))
	if pack.Metrics.ConformanceScore != want {
		t.Fatalf("expected conformance %v, got %v", want, pack.Metrics.ConformanceScore)
	}
}

func TestGenerate_WindowNarrowingRecorded(t *testing.T) {
	b, events := newTestBuilder(t, Config{MaxEvents: 5})
	seedEvents(t, events, 20)

	pack, err := b.Generate(context.Background(), "production", 48, false, "corr-narrow")
	if err != nil {
		t.Fatal(err)
	}

	if !pack.Window.Narrowed || pack.Window.NarrowSteps == 0 {
		t.Fatalf("expected recorded narrowing, got %+v", pack.Window)
	}
	if pack.Window.RequestedHoursBack != 48 {
		t.Fatalf("the original request must be preserved, got %d", pack.Window.RequestedHoursBack)
	}
	if len(pack.Events) > 5 {
		t.Fatalf("event cap must hold, got %d", len(pack.Events))
	}
	if pack.Metrics != nil {
		t.Fatal("metrics were not requested")
	}
}

func TestGenerate_FloorWindowTruncationRecorded(t *testing.T) {
	b, events := newTestBuilder(t, Config{MaxEvents: 2})
	seedEvents(t, events, 3)

	pack, err := b.Generate(context.Background(), "production", 1, false, "corr-floor")
	if err != nil {
		t.Fatal(err)
	}

	if len(pack.Events) != 2 {
		t.Fatalf("event cap must hold, got %d", len(pack.Events))
	}
	if !pack.Window.Truncated || pack.Window.DroppedEvents != 1 {
		t.Fatalf("cut events must be recorded in the metadata, got %+v", pack.Window)
	}
	// A one-hour window has nothing left to halve.
	if pack.Window.Narrowed || pack.Window.NarrowSteps != 0 {
		t.Fatalf("floor window must not report narrowing, got %+v", pack.Window)
	}
}

func TestGenerate_Validation(t *testing.T) {
	b, _ := newTestBuilder(t, Config{})

	for _, hours := range []int{0, -12} {
		if _, err := b.Generate(context.Background(), "production", hours, false, "corr-1"); !errors.Is(err, govererr.ErrValidation) {
			t.Fatalf("hours_back=%d: expected validation error, got %v", hours, err)
		}
	}
}

type degradedDirectory struct {
	inner catalog.Directory
}

func (d *degradedDirectory) ListPrincipals(ctx context.Context, env string) (*catalog.Listing, error) {
	listing, err := d.inner.ListPrincipals(ctx, env)
	if err != nil {
		return nil, err
	}
	listing.Degraded = true
	return listing, nil
}

func TestGenerate_DegradedCatalogFlaggedNotFatal(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	events := audit.NewMemoryStore()
	agg := catalog.NewAggregator(&degradedDirectory{inner: testDirectory()}, catalog.DefaultConfig(), logger)
	b := NewBuilder(Config{}, agg, analyzer.New(analyzer.Config{}), events, events, logger)

	pack, err := b.Generate(context.Background(), "production", 24, false, "corr-deg")
	if err != nil {
		t.Fatal(err)
	}
	if !pack.Degraded {
		t.Fatal("a degraded catalog must be flagged in the pack")
	}
	if len(pack.Snapshot.Principals) != 2 {
		t.Fatalf("partial results must still be included, got %d", len(pack.Snapshot.Principals))
	}
}

func TestGenerate_EmitsAuditEvent(t *testing.T) {
	b, events := newTestBuilder(t, Config{})

	if _, err := b.Generate(context.Background(), "production", 24, false, "corr-evt"); err != nil {
		t.Fatal(err)
	}

	recorded, err := events.ByCorrelation(context.Background(), "corr-evt")
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 1 || recorded[0].EventType != audit.TypeEvidencePackGenerated {
		t.Fatalf("expected one generation event, got %+v", recorded)
	}
}

func TestGenerate_TamperedEventFailsPack(t *testing.T) {
	b, events := newTestBuilder(t, Config{})
	ctx := context.Background()

	ev := audit.NewEvent(audit.TypePolicyDecision, "corr-t", []string{"agent-1"}, "success", 1)
	if err := events.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if !events.Tamper(ev.ID, "forged") {
		t.Fatal("tamper failed")
	}

	_, err := b.Generate(ctx, "production", 24, false, "corr-t2")
	if !errors.Is(err, govererr.ErrIntegrityMismatch) {
		t.Fatalf("expected integrity mismatch, got %v", err)
	}

	detections, err := events.ByCorrelation(ctx, "corr-t2")
	if err != nil {
		t.Fatal(err)
	}
	if len(detections) != 1 || detections[0].EventType != audit.TypeIntegrityFailure {
		t.Fatalf("expected a detection event, got %+v", detections)
	}
}

func TestPackDigestDetectsMutation(t *testing.T) {
	b, _ := newTestBuilder(t, Config{})

	pack, err := b.Generate(context.Background(), "production", 24, false, "corr-dig")
	if err != nil {
		t.Fatal(err)
	}
	if !pack.Verify() {
		t.Fatal("fresh pack must verify")
	}

	pack.Environment = "staging"
	if pack.Verify() {
		t.Fatal("a mutated pack must fail verification")
	}
}
