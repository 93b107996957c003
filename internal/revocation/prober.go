package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

// AccessChecker reports whether a revoked credential can still reach the
// target systems.
type AccessChecker interface {
	AccessBlocked(ctx context.Context, credentialID string) (bool, error)
}

// ProbeResult is the outcome of one synthetic revocation exercise.
type ProbeResult struct {
	CredentialID  string
	RevocationID  string
	TestPassed    bool
	AccessBlocked bool
	LatencyMs     float64
	SLAMet        bool
	RanAt         time.Time
}

// ProbeReport aggregates a batch of probe results.
type ProbeReport struct {
	Runs      int
	Passed    int
	SLAMet    int
	AvgLatMs  float64
	Results   []ProbeResult
	StartedAt time.Time
}

// Prober continuously validates the revocation path end to end: it revokes a
// synthetic credential, drives propagation, and verifies access is actually
// blocked within the SLA window.
type Prober struct {
	tracker *Tracker
	checker AccessChecker
	targets []string
	logger  *zap.Logger
	now     func() time.Time
}

// NewProber creates a prober exercising the given targets.
func NewProber(tracker *Tracker, checker AccessChecker, targets []string, logger *zap.Logger) *Prober {
	return &Prober{
		tracker: tracker,
		checker: checker,
		targets: targets,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes a single synthetic revocation and reports the outcome.
func (p *Prober) RunOnce(ctx context.Context) (*ProbeResult, error) {
	start := p.now()
	credentialID := "synthetic-" + uuid.NewString()
	correlationID := "probe-" + uuid.NewString()

	rev, err := p.tracker.Initiate(ctx, credentialID, PriorityP1, p.targets, correlationID)
	if err != nil {
		return nil, fmt.Errorf("RunOnce: %w", err)
	}
	rev, err = p.tracker.Propagate(ctx, rev.ID)
	if err != nil && !errors.Is(err, govererr.ErrSLABreach) {
		return nil, fmt.Errorf("RunOnce: %w", err)
	}

	blocked, err := p.checker.AccessBlocked(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("RunOnce: %w", err)
	}

	result := &ProbeResult{
		CredentialID:  credentialID,
		RevocationID:  rev.ID,
		AccessBlocked: blocked,
		LatencyMs:     float64(p.now().Sub(start).Microseconds()) / 1000,
		SLAMet:        rev.Status == StatusComplete,
		RanAt:         start,
	}
	result.TestPassed = result.AccessBlocked && result.SLAMet

	p.logger.Info("revocation probe finished",
		zap.String("revocation_id", rev.ID),
		zap.Bool("passed", result.TestPassed),
		zap.Bool("access_blocked", result.AccessBlocked),
		zap.Float64("latency_ms", result.LatencyMs),
	)
	return result, nil
}

// RunN executes n probes sequentially and aggregates the outcomes.
func (p *Prober) RunN(ctx context.Context, n int) (*ProbeReport, error) {
	report := &ProbeReport{StartedAt: p.now()}
	var totalLatency float64
	for range n {
		result, err := p.RunOnce(ctx)
		if err != nil {
			return nil, fmt.Errorf("RunN: %w", err)
		}
		report.Runs++
		if result.TestPassed {
			report.Passed++
		}
		if result.SLAMet {
			report.SLAMet++
		}
		totalLatency += result.LatencyMs
		report.Results = append(report.Results, *result)
	}
	if report.Runs > 0 {
		report.AvgLatMs = totalLatency / float64(report.Runs)
	}
	return report, nil
}
