// Package revocation tracks credential revocations from initiation through
// propagation, enforcing per-priority SLA windows and recording breaches as
// first-class audit events.
package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Status transitions are monotonic: pending ends in exactly one of complete
// or failed, and terminal states never change.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Priority selects the SLA window. P1 revocations get the tight window.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// TargetResult records the propagation outcome for one target system.
type TargetResult struct {
	Target       string
	Propagated   bool
	Error        string
	PropagatedAt time.Time
}

// Revocation is one tracked credential revocation.
type Revocation struct {
	ID            string
	CredentialID  string
	Priority      Priority
	Targets       []string
	Results       []TargetResult
	Status        Status
	InitiatedAt   time.Time
	SLADeadline   time.Time
	CompletedAt   *time.Time
	CorrelationID string
}

// Store persists revocation records keyed by id.
type Store interface {
	Get(ctx context.Context, id string) (*Revocation, error)
	Put(ctx context.Context, rev *Revocation) error
	List(ctx context.Context) ([]*Revocation, error)
}

// Propagator pushes one revocation to one target system.
type Propagator interface {
	Propagate(ctx context.Context, target, credentialID string) error
}

// Config holds the tracker's SLA windows.
type Config struct {
	SLAWindowP1      time.Duration
	SLAWindowDefault time.Duration
}

// DefaultConfig returns the production SLA windows: 5 minutes for P1,
// 15 minutes for everything else.
func DefaultConfig() Config {
	return Config{
		SLAWindowP1:      5 * time.Minute,
		SLAWindowDefault: 15 * time.Minute,
	}
}

func (c Config) window(p Priority) time.Duration {
	if p == PriorityP1 {
		return c.SLAWindowP1
	}
	return c.SLAWindowDefault
}

// SLAMetrics aggregates terminal revocations. Pending revocations are
// excluded until they resolve.
type SLAMetrics struct {
	Total          int
	Complete       int
	Failed         int
	SLAMet         int
	SLAMissed      int
	ComplianceRate float64
}

// Tracker owns the revocation lifecycle.
type Tracker struct {
	cfg        Config
	store      Store
	propagator Propagator
	events     audit.Writer
	logger     *zap.Logger
	now        func() time.Time
}

// NewTracker creates a tracker over the given store and propagator.
func NewTracker(cfg Config, store Store, propagator Propagator, events audit.Writer, logger *zap.Logger) *Tracker {
	return &Tracker{
		cfg:        cfg,
		store:      store,
		propagator: propagator,
		events:     events,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a new pending revocation and stamps its SLA deadline.
// Propagation runs separately via Propagate.
func (t *Tracker) Initiate(ctx context.Context, credentialID string, priority Priority, targets []string, correlationID string) (*Revocation, error) {
	if credentialID == "" {
		return nil, govererr.Validationf("credential id is required")
	}
	if len(targets) == 0 {
		return nil, govererr.Validationf("at least one target is required")
	}

	now := t.now()
	rev := &Revocation{
		ID:            uuid.NewString(),
		CredentialID:  credentialID,
		Priority:      priority,
		Targets:       append([]string(nil), targets...),
		Status:        StatusPending,
		InitiatedAt:   now,
		SLADeadline:   now.Add(t.cfg.window(priority)),
		CorrelationID: correlationID,
	}
	if err := t.store.Put(ctx, rev); err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	t.appendEvent(ctx, audit.TypeRevocationInitiated, correlationID, []string{credentialID}, "success")
	t.logger.Info("revocation initiated",
		zap.String("revocation_id", rev.ID),
		zap.String("credential_id", credentialID),
		zap.String("priority", string(priority)),
		zap.Time("sla_deadline", rev.SLADeadline),
	)
	return rev, nil
}

// Propagate pushes the revocation to every target under a context that is
// cancelled at the SLA deadline, then resolves the revocation to complete or
// failed. Terminal revocations are left untouched.
func (t *Tracker) Propagate(ctx context.Context, id string) (*Revocation, error) {
	rev, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Propagate: %w", err)
	}
	if rev == nil {
		return nil, govererr.NotFoundf("revocation", id)
	}
	if rev.Status != StatusPending {
		return rev, nil
	}

	deadlineCtx, cancel := context.WithDeadline(ctx, rev.SLADeadline)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]TargetResult, 0, len(rev.Targets))
	)
	for _, target := range rev.Targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			result := TargetResult{Target: target}
			if err := t.propagator.Propagate(deadlineCtx, target, rev.CredentialID); err != nil {
				result.Error = err.Error()
			} else {
				result.Propagated = true
				result.PropagatedAt = t.now()
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			outcome := "success"
			if !result.Propagated {
				outcome = "failure"
			}
			t.appendEvent(ctx, audit.TypeRevocationPropagated, rev.CorrelationID,
				[]string{rev.CredentialID, target}, outcome)
		}(target)
	}
	wg.Wait()

	rev.Results = results
	allPropagated := true
	for _, r := range results {
		if !r.Propagated {
			allPropagated = false
			break
		}
	}

	now := t.now()
	rev.CompletedAt = &now
	breached := now.After(rev.SLADeadline)
	if allPropagated && !breached {
		rev.Status = StatusComplete
		t.appendEvent(ctx, audit.TypeRevocationCompleted, rev.CorrelationID, []string{rev.CredentialID}, "success")
	} else {
		rev.Status = StatusFailed
		t.appendEvent(ctx, audit.TypeRevocationFailed, rev.CorrelationID, []string{rev.CredentialID}, "failure")
		if breached {
			t.appendEvent(ctx, audit.TypeSLABreach, rev.CorrelationID, []string{rev.CredentialID}, "sla_breach")
		}
	}

	if err := t.store.Put(ctx, rev); err != nil {
		return nil, fmt.Errorf("Propagate: %w", err)
	}
	t.logger.Info("revocation resolved",
		zap.String("revocation_id", rev.ID),
		zap.String("status", string(rev.Status)),
	)
	if breached {
		// The resolved record is still returned so callers can inspect it.
		return rev, fmt.Errorf("Propagate: revocation %s: %w", rev.ID, govererr.ErrSLABreach)
	}
	return rev, nil
}

// TrackStatus returns the revocation's current state. A pending revocation
// observed past its SLA deadline is flipped to failed, persisted, and the
// breach recorded as an audit event.
func (t *Tracker) TrackStatus(ctx context.Context, id string) (*Revocation, error) {
	rev, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("TrackStatus: %w", err)
	}
	if rev == nil {
		return nil, govererr.NotFoundf("revocation", id)
	}

	if rev.Status == StatusPending && t.now().After(rev.SLADeadline) {
		now := t.now()
		rev.Status = StatusFailed
		rev.CompletedAt = &now
		if err := t.store.Put(ctx, rev); err != nil {
			return nil, fmt.Errorf("TrackStatus: %w", err)
		}
		t.appendEvent(ctx, audit.TypeSLABreach, rev.CorrelationID, []string{rev.CredentialID}, "sla_breach")
		t.appendEvent(ctx, audit.TypeRevocationFailed, rev.CorrelationID, []string{rev.CredentialID}, "failure")
		t.logger.Warn("revocation breached SLA",
			zap.String("revocation_id", rev.ID),
			zap.String("priority", string(rev.Priority)),
			zap.Time("sla_deadline", rev.SLADeadline),
		)
	}
	return rev, nil
}

// Metrics aggregates SLA compliance over terminal revocations.
func (t *Tracker) Metrics(ctx context.Context) (*SLAMetrics, error) {
	revs, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("Metrics: %w", err)
	}

	m := &SLAMetrics{}
	for _, rev := range revs {
		if rev.Status == StatusPending {
			continue
		}
		m.Total++
		switch rev.Status {
		case StatusComplete:
			m.Complete++
		case StatusFailed:
			m.Failed++
		}
		if rev.Status == StatusComplete && rev.CompletedAt != nil && !rev.CompletedAt.After(rev.SLADeadline) {
			m.SLAMet++
		} else {
			m.SLAMissed++
		}
	}
	if m.Total > 0 {
		m.ComplianceRate = float64(m.SLAMet) / float64(m.Total) * 100
	}
	return m, nil
}

func (t *Tracker) appendEvent(ctx context.Context, eventType, correlationID string, chain []string, outcome string) {
	event := audit.NewEvent(eventType, correlationID, chain, outcome, 0)
	if err := t.events.Append(ctx, event); err != nil {
		t.logger.Error("append audit event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
