package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Config holds the aggregation policy knobs.
type Config struct {
	// InactivityThreshold flags principals not used within this window.
	InactivityThreshold time.Duration
}

// DefaultConfig returns the default aggregation policy: 30-day inactivity.
func DefaultConfig() Config {
	return Config{InactivityThreshold: 30 * 24 * time.Hour}
}

// Aggregator merges raw directory records into normalized snapshots.
// Aggregation is read-only: the only output is the returned snapshot.
type Aggregator struct {
	directory Directory
	cfg       Config
	logger    *zap.Logger
}

// NewAggregator creates an aggregator over the given directory. The zero
// Config selects the defaults.
func NewAggregator(directory Directory, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Aggregator{directory: directory, cfg: cfg, logger: logger}
}

// Aggregate builds a snapshot for the environment filter (empty = all).
// When the directory is partially unavailable the snapshot is returned with
// Degraded set alongside govererr.ErrDataSourceUnavailable, so callers get
// a usable catalog flagged incomplete instead of a hard failure.
func (a *Aggregator) Aggregate(ctx context.Context, environmentFilter string) (*Snapshot, error) {
	listing, err := a.directory.ListPrincipals(ctx, environmentFilter)
	if err != nil {
		return nil, fmt.Errorf("Aggregate: %w", errors.Join(govererr.ErrDataSourceUnavailable, err))
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		Environment: environmentFilter,
		GeneratedAt: now,
		Degraded:    listing.Degraded,
		Principals:  make([]Principal, 0, len(listing.Records)),
	}

	for _, rec := range listing.Records {
		snap.Principals = append(snap.Principals, a.normalize(rec, now))
	}
	sort.Slice(snap.Principals, func(i, j int) bool {
		return snap.Principals[i].ID < snap.Principals[j].ID
	})

	if snap.Degraded {
		a.logger.Warn("directory partially unavailable, catalog incomplete",
			zap.String("environment", environmentFilter),
			zap.Int("principals", len(snap.Principals)),
		)
		return snap, fmt.Errorf("Aggregate: %w", govererr.ErrDataSourceUnavailable)
	}
	return snap, nil
}

func (a *Aggregator) normalize(rec Record, now time.Time) Principal {
	p := Principal{
		ID:          rec.ID,
		Type:        normalizeType(rec.Type),
		Environment: rec.Environment,
		Owner:       rec.Tags["Owner"],
		Purpose:     rec.Tags["Purpose"],
		CreatedAt:   rec.CreatedAt,
		LastUsedAt:  rec.LastUsedAt,
		Status:      StatusActive,
		Footprint:   Summarize(rec.Policies),
	}
	if env := rec.Tags["Environment"]; env != "" && p.Environment == "" {
		p.Environment = env
	}

	// Inactivity: never used, or last use older than the threshold.
	p.Inactive = rec.LastUsedAt == nil || now.Sub(*rec.LastUsedAt) > a.cfg.InactivityThreshold

	// Orphan: no accountable owner, or no recorded purpose.
	p.Orphan = p.Owner == "" || p.Owner == "unknown" || p.Purpose == ""

	return p
}

func normalizeType(raw string) PrincipalType {
	switch PrincipalType(raw) {
	case TypeExecution, TypeGateway, TypeProvisioner, TypeTool, TypeKnowledge:
		return PrincipalType(raw)
	}
	// Directory records use suffixed role names like "execution_role".
	switch {
	case strings.HasPrefix(raw, "execution"):
		return TypeExecution
	case strings.HasPrefix(raw, "gateway"):
		return TypeGateway
	case strings.HasPrefix(raw, "provisioner"):
		return TypeProvisioner
	case strings.HasPrefix(raw, "knowledge"):
		return TypeKnowledge
	default:
		return TypeTool
	}
}

// Summarize computes a policy footprint from raw policy documents.
func Summarize(policies []PolicyDocument) PolicyFootprint {
	fp := PolicyFootprint{
		AttachedPolicyCount: len(policies),
		ResourceScopeWidth:  ScopeNarrow,
	}

	seenWildcards := map[string]struct{}{}
	for _, doc := range policies {
		fp.ActionCount += len(doc.Actions)
		for _, action := range doc.Actions {
			if strings.Contains(action, "*") {
				if _, ok := seenWildcards[action]; !ok {
					seenWildcards[action] = struct{}{}
					fp.WildcardActions = append(fp.WildcardActions, action)
				}
			}
		}
		for _, res := range doc.Resources {
			switch {
			case res == "*":
				fp.ResourceScopeWidth = ScopeBroad
			case strings.Contains(res, "*") && fp.ResourceScopeWidth != ScopeBroad:
				fp.ResourceScopeWidth = ScopeModerate
			}
		}
	}
	sort.Strings(fp.WildcardActions)
	return fp
}

// Paginate returns one page of a snapshot's inventory, ordered by principal
// id. The cursor is the last id of the previous page; empty starts from the
// beginning. Snapshots are sorted at build time, so pages are stable.
func Paginate(snap *Snapshot, cursor string, limit int) Page {
	if limit <= 0 {
		limit = 100
	}

	start := 0
	if cursor != "" {
		start = sort.Search(len(snap.Principals), func(i int) bool {
			return snap.Principals[i].ID > cursor
		})
	}

	end := start + limit
	if end > len(snap.Principals) {
		end = len(snap.Principals)
	}

	page := Page{Principals: snap.Principals[start:end]}
	if end < len(snap.Principals) {
		page.NextCursor = snap.Principals[end-1].ID
	}
	return page
}
