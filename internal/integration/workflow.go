// Package integration tracks third-party integration requests through
// request → approve/deny → active → expired/revoked, enforcing time-bounded
// access to approved targets.
package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/audit"
	"github.com/parallaxsec/agentgov/internal/decision"
	"github.com/parallaxsec/agentgov/internal/govererr"
)

// Status is the closed set of integration states. Approval moves a request
// straight to active; active ends by expiry or explicit revocation.
type Status string

const (
	StatusRequested Status = "requested"
	StatusActive    Status = "active"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// Deny reasons recorded by access checks.
const (
	ReasonNotFound          = "integration_not_found"
	ReasonNotActive         = "integration_not_active"
	ReasonExpired           = "integration_expired"
	ReasonTargetNotApproved = "target_not_approved"
)

const policyReference = "integration-workflow"

// Integration is one third-party integration record.
type Integration struct {
	ID              string
	Name            string
	RequestedBy     string
	Justification   string
	ApprovedTargets []string
	ApprovedBy      string
	ApprovedAt      time.Time
	ExpiresAt       *time.Time
	Status          Status
	RequestedAt     time.Time
}

// Store persists integration records keyed by id.
type Store interface {
	Get(ctx context.Context, id string) (*Integration, error)
	Put(ctx context.Context, integ *Integration) error
}

// Workflow drives the integration approval state machine.
type Workflow struct {
	store     Store
	decisions decision.Sink
	events    audit.Writer
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflow creates a workflow over the given store and collaborators.
func NewWorkflow(store Store, decisions decision.Sink, events audit.Writer, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:     store,
		decisions: decisions,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Request records a new integration request. Justification and target scope
// must be non-empty; validation failures leave no state behind.
func (w *Workflow) Request(ctx context.Context, name, requestedBy, justification string, targets []string, correlationID string) (*Integration, error) {
	if justification == "" {
		return nil, govererr.Validationf("justification is required")
	}
	if len(targets) == 0 {
		return nil, govererr.Validationf("at least one target is required")
	}

	integ := &Integration{
		ID:              uuid.NewString(),
		Name:            name,
		RequestedBy:     requestedBy,
		Justification:   justification,
		ApprovedTargets: append([]string(nil), targets...),
		Status:          StatusRequested,
		RequestedAt:     w.now(),
	}
	if err := w.store.Put(ctx, integ); err != nil {
		return nil, fmt.Errorf("Request: %w", err)
	}

	w.appendEvent(ctx, audit.TypeIntegrationRequest, correlationID, []string{requestedBy}, "success")
	return integ, nil
}

// Approve activates a requested integration with a bounded lifetime.
// expiryDays must be positive.
func (w *Workflow) Approve(ctx context.Context, id, approver string, expiryDays int, correlationID string) (*Integration, error) {
	if expiryDays <= 0 {
		return nil, govererr.Validationf("expiry_days must be positive, got %d", expiryDays)
	}

	integ, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Approve: %w", err)
	}
	if integ == nil {
		return nil, govererr.NotFoundf("integration", id)
	}
	if integ.Status != StatusRequested {
		return nil, govererr.Validationf("integration %s is %s, not requested", id, integ.Status)
	}

	expires := w.now().Add(time.Duration(expiryDays) * 24 * time.Hour)
	integ.Status = StatusActive
	integ.ApprovedBy = approver
	integ.ApprovedAt = w.now()
	integ.ExpiresAt = &expires

	if err := w.store.Put(ctx, integ); err != nil {
		return nil, fmt.Errorf("Approve: %w", err)
	}

	w.appendEvent(ctx, audit.TypeIntegrationApproved, correlationID, []string{approver}, "success")
	w.logger.Info("integration approved",
		zap.String("integration_id", id),
		zap.String("approver", approver),
		zap.Int("expiry_days", expiryDays),
	)
	return integ, nil
}

// Deny terminally rejects a requested integration.
func (w *Workflow) Deny(ctx context.Context, id, approver, reason, correlationID string) error {
	if reason == "" {
		return govererr.Validationf("denial reason is required")
	}

	integ, err := w.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("Deny: %w", err)
	}
	if integ == nil {
		return govererr.NotFoundf("integration", id)
	}
	if integ.Status != StatusRequested {
		return govererr.Validationf("integration %s is %s, not requested", id, integ.Status)
	}

	integ.Status = StatusDenied
	if err := w.store.Put(ctx, integ); err != nil {
		return fmt.Errorf("Deny: %w", err)
	}

	w.appendEvent(ctx, audit.TypeIntegrationDenied, correlationID, []string{approver}, "denied")
	return nil
}

// Revoke terminally ends an active integration.
func (w *Workflow) Revoke(ctx context.Context, id, correlationID string) error {
	integ, err := w.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}
	if integ == nil {
		return govererr.NotFoundf("integration", id)
	}
	if integ.Status != StatusActive {
		return govererr.Validationf("integration %s is %s, not active", id, integ.Status)
	}

	integ.Status = StatusRevoked
	if err := w.store.Put(ctx, integ); err != nil {
		return fmt.Errorf("Revoke: %w", err)
	}

	w.appendEvent(ctx, audit.TypeIntegrationRevoked, correlationID, []string{id}, "success")
	return nil
}

// CheckAllowed decides whether the integration may call the target endpoint.
// Every denial records a policy decision with its reason. Expiry is observed
// lazily here and persisted.
func (w *Workflow) CheckAllowed(ctx context.Context, id, targetEndpoint, correlationID string) (*decision.Decision, error) {
	integ, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("CheckAllowed: %w", err)
	}
	if integ != nil {
		if err := w.expireIfPast(ctx, integ); err != nil {
			return nil, fmt.Errorf("CheckAllowed: %w", err)
		}
	}

	effect, reason := decision.EffectAllow, ""
	switch {
	case integ == nil:
		effect, reason = decision.EffectDeny, ReasonNotFound
	case integ.Status == StatusExpired:
		effect, reason = decision.EffectDeny, ReasonExpired
	case integ.Status != StatusActive:
		effect, reason = decision.EffectDeny, ReasonNotActive
	case !containsTarget(integ.ApprovedTargets, targetEndpoint):
		effect, reason = decision.EffectDeny, ReasonTargetNotApproved
	}

	d := decision.New(decision.SubjectIntegration, id, "check_integration_allowed",
		targetEndpoint, effect, policyReference, correlationID, reason)
	if err := w.decisions.Record(ctx, d); err != nil {
		w.logger.Error("record decision failed", zap.String("integration_id", id), zap.Error(err))
	}
	return d, nil
}

// Get returns one integration record. An active record read past its expiry
// is returned expired, so no read surface ever shows status=active with a
// lapsed expiry.
func (w *Workflow) Get(ctx context.Context, id string) (*Integration, error) {
	integ, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if integ == nil {
		return nil, govererr.NotFoundf("integration", id)
	}
	if err := w.expireIfPast(ctx, integ); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return integ, nil
}

// expireIfPast flips an active integration whose expiry has lapsed to
// expired and persists the transition.
func (w *Workflow) expireIfPast(ctx context.Context, integ *Integration) error {
	if integ.Status != StatusActive || integ.ExpiresAt == nil || !w.now().After(*integ.ExpiresAt) {
		return nil
	}
	integ.Status = StatusExpired
	return w.store.Put(ctx, integ)
}

func (w *Workflow) appendEvent(ctx context.Context, eventType, correlationID string, chain []string, outcome string) {
	event := audit.NewEvent(eventType, correlationID, chain, outcome, 0)
	if err := w.events.Append(ctx, event); err != nil {
		w.logger.Error("append audit event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func containsTarget(targets []string, endpoint string) bool {
	for _, t := range targets {
		if t == endpoint {
			return true
		}
	}
	return false
}
