// Package evidence assembles compliance evidence packs: a catalog snapshot,
// conformance metrics, and the audit events for a bounded window, sealed
// with an integrity digest.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/analyzer"
	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/catalog"
	"github.com/parallaxsec/agentgov/internal/govererr"
	"github.com/parallaxsec/agentgov/internal/ledger"
)

// WindowMeta records how the requested audit window was narrowed to stay
// under the event cap. A pack whose window shrank or whose events were cut
// by the cap says so; it never silently drops coverage.
type WindowMeta struct {
	RequestedHoursBack int
	EffectiveWindow    time.Duration
	From               time.Time
	To                 time.Time
	Narrowed           bool
	NarrowSteps        int
	// Truncated marks packs where the cap cut events even after narrowing
	// bottomed out at the one-hour floor. DroppedEvents counts the cut.
	Truncated     bool
	DroppedEvents int
}

// Pack is one generated evidence pack.
type Pack struct {
	ID          string
	GeneratedAt time.Time
	Environment string
	Window      WindowMeta
	Snapshot    *catalog.Snapshot
	Degraded    bool
	Metrics     *analyzer.Metrics
	Events      []audit.Event
	Digest      string
}

// CanonicalFields returns the digest input in fixed order. Snapshot and
// event payloads are covered through their counts and the window bounds;
// individual events carry their own integrity hashes.
func (p *Pack) CanonicalFields() []string {
	return []string{
		p.ID,
		p.GeneratedAt.UTC().Format(time.RFC3339Nano),
		p.Environment,
		p.Window.From.UTC().Format(time.RFC3339Nano),
		p.Window.To.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(len(p.Snapshot.Principals)),
		strconv.Itoa(len(p.Events)),
		strconv.FormatBool(p.Degraded),
	}
}

// Verify recomputes the pack digest against the stored one.
func (p *Pack) Verify() bool {
	return ledger.Verify(p, p.Digest)
}

// Config holds the builder's limits.
type Config struct {
	// MaxEvents caps the audit events in one pack. When the requested
	// window holds more, the window is halved until it fits.
	MaxEvents int
}

// DefaultConfig returns the default cap of 50k events per pack.
func DefaultConfig() Config {
	return Config{MaxEvents: 50_000}
}

// Builder generates evidence packs from the catalog and the audit log.
type Builder struct {
	cfg        Config
	aggregator *catalog.Aggregator
	analyzer   *analyzer.Analyzer
	reader     audit.Reader
	events     audit.Writer
	logger     *zap.Logger
	now        func() time.Time
}

// NewBuilder creates a builder over the given collaborators. A non-positive
// MaxEvents selects the default cap; packs cannot be capped at zero.
func NewBuilder(cfg Config, agg *catalog.Aggregator, an *analyzer.Analyzer, reader audit.Reader, events audit.Writer, logger *zap.Logger) *Builder {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	return &Builder{
		cfg:        cfg,
		aggregator: agg,
		analyzer:   an,
		reader:     reader,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate assembles a pack covering the last hoursBack hours. A degraded
// catalog is included and flagged rather than failing the pack; a hard
// directory outage fails it.
func (b *Builder) Generate(ctx context.Context, environment string, hoursBack int, includeMetrics bool, correlationID string) (*Pack, error) {
	if hoursBack <= 0 {
		return nil, govererr.Validationf("hours_back must be positive, got %d", hoursBack)
	}

	snap, err := b.aggregator.Aggregate(ctx, environment)
	if err != nil && !errors.Is(err, govererr.ErrDataSourceUnavailable) {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	snap = b.analyzer.Evaluate(snap)

	window, err := b.narrowWindow(ctx, hoursBack)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}

	packEvents, err := b.reader.Range(ctx, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	if len(packEvents) > b.cfg.MaxEvents {
		window.Truncated = true
		window.DroppedEvents = len(packEvents) - b.cfg.MaxEvents
		packEvents = packEvents[:b.cfg.MaxEvents]
	}

	// A pack is only evidence if every event in it verifies. Tampered events
	// fail generation outright and leave a detection record in the log.
	for i := range packEvents {
		if !packEvents[i].Verify() {
			detection := audit.NewEvent(audit.TypeIntegrityFailure, correlationID,
				[]string{"event:" + packEvents[i].ID}, "integrity_mismatch", 0)
			if err := b.events.Append(ctx, detection); err != nil {
				b.logger.Error("append audit event failed", zap.Error(err))
			}
			return nil, fmt.Errorf("Generate: event %s: %w", packEvents[i].ID, govererr.ErrIntegrityMismatch)
		}
	}

	pack := &Pack{
		ID:          uuid.NewString(),
		GeneratedAt: b.now(),
		Environment: environment,
		Window:      *window,
		Snapshot:    snap,
		Degraded:    snap.Degraded,
		Events:      packEvents,
	}
	if includeMetrics {
		m := b.analyzer.Conformance(snap)
		pack.Metrics = &m
	}
	pack.Digest = ledger.Seal(pack)

	event := audit.NewEvent(audit.TypeEvidencePackGenerated, correlationID,
		[]string{"evidence:" + pack.ID}, "success", 0)
	if err := b.events.Append(ctx, event); err != nil {
		b.logger.Error("append audit event failed", zap.String("pack_id", pack.ID), zap.Error(err))
	}

	b.logger.Info("evidence pack generated",
		zap.String("pack_id", pack.ID),
		zap.String("environment", environment),
		zap.Int("events", len(pack.Events)),
		zap.Bool("narrowed", pack.Window.Narrowed),
		zap.Bool("truncated", pack.Window.Truncated),
		zap.Bool("degraded", pack.Degraded),
	)
	return pack, nil
}

// narrowWindow halves the window until the event count fits under the cap.
// The floor is one hour; a window that still overflows at the floor is taken
// as-is, truncated by the cap at read time, and marked Truncated in the
// metadata.
func (b *Builder) narrowWindow(ctx context.Context, hoursBack int) (*WindowMeta, error) {
	to := b.now()
	window := time.Duration(hoursBack) * time.Hour
	meta := &WindowMeta{
		RequestedHoursBack: hoursBack,
		To:                 to,
	}

	for {
		meta.From = to.Add(-window)
		count, err := b.reader.CountRange(ctx, meta.From, to)
		if err != nil {
			return nil, err
		}
		if count <= b.cfg.MaxEvents || window <= time.Hour {
			meta.EffectiveWindow = window
			return meta, nil
		}
		window /= 2
		meta.Narrowed = true
		meta.NarrowSteps++
	}
}
