// Package analyzer computes least-privilege scores, risk ratings, and
// enterprise conformance metrics over catalog snapshots, and produces
// differential change reports between two snapshots.
package analyzer

import (
	"sort"
	"time"

	"github.com/parallaxsec/agentgov/internal/catalog"
)

// Config holds the scoring policy. Penalty values and the material delta are
// configuration with fixed defaults; the scoring formula itself is not.
type Config struct {
	// PenaltyModerate is subtracted from the raw score for MODERATE
	// resource scope.
	PenaltyModerate float64
	// PenaltyBroad is subtracted for BROAD resource scope.
	PenaltyBroad float64
	// MaterialDelta is the score change, in points, below which a
	// principal's drift is omitted from change reports.
	MaterialDelta float64
}

// DefaultConfig returns the default scoring policy: penalties 5/15, material
// delta 5 points.
func DefaultConfig() Config {
	return Config{PenaltyModerate: 5, PenaltyBroad: 15, MaterialDelta: 5}
}

// Analyzer scores principals and aggregates enterprise metrics. All methods
// are pure with respect to their inputs: same snapshot, same output.
type Analyzer struct {
	cfg Config
}

// New creates an analyzer. The zero Config selects the defaults; any other
// value is taken field-for-field as given, so an explicit zero penalty stays
// zero.
func New(cfg Config) *Analyzer {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Analyzer{cfg: cfg}
}

// Score computes the least-privilege score for a footprint:
//
//	(1 - wildcard_count/action_count) * 100, minus the scope penalty,
//	clamped to [0,100].
//
// A footprint with no attached policies grants nothing and scores 100. A
// footprint with policies but no parseable actions is undefined privilege
// and scores 0.
func (a *Analyzer) Score(fp catalog.PolicyFootprint) float64 {
	if fp.AttachedPolicyCount == 0 {
		return 100
	}
	if fp.ActionCount == 0 {
		return 0
	}

	score := (1 - float64(len(fp.WildcardActions))/float64(fp.ActionCount)) * 100
	switch fp.ResourceScopeWidth {
	case catalog.ScopeModerate:
		score -= a.cfg.PenaltyModerate
	case catalog.ScopeBroad:
		score -= a.cfg.PenaltyBroad
	case catalog.ScopeNarrow:
	}

	return clamp(score, 0, 100)
}

// RiskRating derives the rating from a scored footprint and the inactivity
// flag. HIGH if score < 60 or a wildcard grant sits unused; LOW only for
// score >= 95 on an active principal; MODERATE otherwise.
func (a *Analyzer) RiskRating(fp catalog.PolicyFootprint, inactive bool) catalog.RiskRating {
	score := a.Score(fp)
	switch {
	case score < 60 || (len(fp.WildcardActions) > 0 && inactive):
		return catalog.RiskHigh
	case score >= 95 && !inactive:
		return catalog.RiskLow
	default:
		return catalog.RiskModerate
	}
}

// Evaluate returns a copy of the snapshot with every principal's score and
// risk rating filled in. The input snapshot is never mutated.
func (a *Analyzer) Evaluate(snap *catalog.Snapshot) *catalog.Snapshot {
	out := *snap
	out.Principals = make([]catalog.Principal, len(snap.Principals))
	for i, p := range snap.Principals {
		p.Footprint.LeastPrivilegeScore = a.Score(p.Footprint)
		p.RiskRating = a.RiskRating(p.Footprint, p.Inactive)
		out.Principals[i] = p
	}
	return &out
}

// Metrics holds enterprise-wide conformance aggregates for one snapshot.
type Metrics struct {
	ConformanceScore float64
	OrphanRate       float64
	TotalPrincipals  int
	OrphanCount      int
	InactiveCount    int
	HighRiskCount    int
}

// Conformance aggregates snapshot-wide metrics: conformance score is the
// arithmetic mean of all principal scores, orphan rate the orphan fraction.
func (a *Analyzer) Conformance(snap *catalog.Snapshot) Metrics {
	m := Metrics{TotalPrincipals: len(snap.Principals)}
	if m.TotalPrincipals == 0 {
		return m
	}

	var sum float64
	for _, p := range snap.Principals {
		sum += a.Score(p.Footprint)
		if p.Orphan {
			m.OrphanCount++
		}
		if p.Inactive {
			m.InactiveCount++
		}
		if a.RiskRating(p.Footprint, p.Inactive) == catalog.RiskHigh {
			m.HighRiskCount++
		}
	}
	m.ConformanceScore = sum / float64(m.TotalPrincipals)
	m.OrphanRate = float64(m.OrphanCount) / float64(m.TotalPrincipals)
	return m
}

// ScoreDelta is one principal whose score drifted materially between
// snapshots.
type ScoreDelta struct {
	PrincipalID string
	Before      float64
	After       float64
}

// ChangeReport diffs two snapshots by principal id. Used for differential
// compliance tracking, not enforcement.
type ChangeReport struct {
	Added     []string
	Removed   []string
	Deltas    []ScoreDelta
	Timestamp time.Time
}

// ChangeReport compares two snapshots and reports added/removed principals
// and score drifts beyond the material threshold.
func (a *Analyzer) ChangeReport(before, after *catalog.Snapshot) *ChangeReport {
	report := &ChangeReport{Timestamp: time.Now().UTC()}

	prev := make(map[string]catalog.PolicyFootprint, len(before.Principals))
	for _, p := range before.Principals {
		prev[p.ID] = p.Footprint
	}
	curr := make(map[string]catalog.PolicyFootprint, len(after.Principals))
	for _, p := range after.Principals {
		curr[p.ID] = p.Footprint
	}

	for id, fp := range curr {
		old, ok := prev[id]
		if !ok {
			report.Added = append(report.Added, id)
			continue
		}
		beforeScore := a.Score(old)
		afterScore := a.Score(fp)
		if abs(afterScore-beforeScore) > a.cfg.MaterialDelta {
			report.Deltas = append(report.Deltas, ScoreDelta{
				PrincipalID: id,
				Before:      beforeScore,
				After:       afterScore,
			})
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			report.Removed = append(report.Removed, id)
		}
	}

	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Slice(report.Deltas, func(i, j int) bool {
		return report.Deltas[i].PrincipalID < report.Deltas[j].PrincipalID
	})
	return report
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
