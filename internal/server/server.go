// Package server exposes the governance engine over HTTP: authorization
// mapping, integration workflow, revocation tracking, catalog inventory,
// chain reconstruction, and evidence pack generation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/parallaxsec/agentgov/internal/analyzer"
	"github.com/parallaxsec/agentgov/internal/authz"
	"github.com/parallaxsec/agentgov/internal/catalog"
	"github.com/parallaxsec/agentgov/internal/chain"
	"github.com/parallaxsec/agentgov/internal/decision"
	"github.com/parallaxsec/agentgov/internal/evidence"
	"github.com/parallaxsec/agentgov/internal/govererr"
	"github.com/parallaxsec/agentgov/internal/integration"
	"github.com/parallaxsec/agentgov/internal/revocation"
)

const correlationHeader = "X-Correlation-Id"

// Server routes governance requests to the component owning each operation.
type Server struct {
	aggregator    *catalog.Aggregator
	analyzer      *analyzer.Analyzer
	mapper        *authz.Mapper
	workflow      *integration.Workflow
	tracker       *revocation.Tracker
	reconstructor *chain.Reconstructor
	builder       *evidence.Builder
	decisions     decision.Store
	logger        *zap.Logger
}

// New creates a server over the given components.
func New(
	aggregator *catalog.Aggregator,
	an *analyzer.Analyzer,
	mapper *authz.Mapper,
	workflow *integration.Workflow,
	tracker *revocation.Tracker,
	reconstructor *chain.Reconstructor,
	builder *evidence.Builder,
	decisions decision.Store,
	logger *zap.Logger,
) *Server {
	return &Server{
		aggregator:    aggregator,
		analyzer:      an,
		mapper:        mapper,
		workflow:      workflow,
		tracker:       tracker,
		reconstructor: reconstructor,
		builder:       builder,
		decisions:     decisions,
		logger:        logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	mux.HandleFunc("GET /v1/conformance", s.handleConformance)

	mux.HandleFunc("PUT /v1/agents/{agent_id}/tools", s.handleSetTools)
	mux.HandleFunc("GET /v1/agents/{agent_id}/tools/{tool_id}/check", s.handleCheckTool)
	mux.HandleFunc("POST /v1/tools/{tool_id}/cleanup", s.handleCleanupTool)

	mux.HandleFunc("POST /v1/integrations", s.handleIntegrationRequest)
	mux.HandleFunc("GET /v1/integrations/{id}", s.handleIntegrationGet)
	mux.HandleFunc("POST /v1/integrations/{id}/approve", s.handleIntegrationApprove)
	mux.HandleFunc("POST /v1/integrations/{id}/deny", s.handleIntegrationDeny)
	mux.HandleFunc("POST /v1/integrations/{id}/revoke", s.handleIntegrationRevoke)
	mux.HandleFunc("GET /v1/integrations/{id}/check", s.handleIntegrationCheck)

	mux.HandleFunc("POST /v1/revocations", s.handleRevocationInitiate)
	mux.HandleFunc("GET /v1/revocations/metrics", s.handleRevocationMetrics)
	mux.HandleFunc("GET /v1/revocations/{id}", s.handleRevocationStatus)

	mux.HandleFunc("GET /v1/decisions", s.handleDecisions)
	mux.HandleFunc("GET /v1/chains/{correlation_id}", s.handleChain)
	mux.HandleFunc("POST /v1/evidence-packs", s.handleEvidencePack)

	return mux
}

// correlationID reads the propagated id, minting a fresh one for requests
// arriving without it.
func correlationID(r *http.Request) string {
	if id := r.Header.Get(correlationHeader); id != "" {
		if c, err := chain.ParseHeader(id); err == nil {
			return c.TraceID
		}
		return id
	}
	return chain.New("", "", "").TraceID
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	snap, err := s.aggregator.Aggregate(r.Context(), r.URL.Query().Get("environment"))
	if snap == nil {
		s.writeError(w, err)
		return
	}
	snap = s.analyzer.Evaluate(snap)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page := catalog.Paginate(snap, r.URL.Query().Get("cursor"), limit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"principals":   page.Principals,
		"next_cursor":  page.NextCursor,
		"generated_at": snap.GeneratedAt,
		"degraded":     snap.Degraded,
	})
}

func (s *Server) handleConformance(w http.ResponseWriter, r *http.Request) {
	snap, err := s.aggregator.Aggregate(r.Context(), r.URL.Query().Get("environment"))
	if snap == nil {
		s.writeError(w, err)
		return
	}
	metrics := s.analyzer.Conformance(snap)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"metrics":  metrics,
		"degraded": snap.Degraded,
	})
}

func (s *Server) handleSetTools(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tools  []string `json:"tools"`
		Reason string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	report, err := s.mapper.SetAuthorizedTools(r.Context(), r.PathValue("agent_id"), req.Tools, req.Reason, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCheckTool(w http.ResponseWriter, r *http.Request) {
	d, err := s.mapper.CheckToolAuthorized(r.Context(), r.PathValue("agent_id"), r.PathValue("tool_id"), correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCleanupTool(w http.ResponseWriter, r *http.Request) {
	affected, err := s.mapper.CleanupDeprecatedTools(r.Context(), r.PathValue("tool_id"), time.Now().UTC(), correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"agents_affected": affected})
}

func (s *Server) handleIntegrationRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string   `json:"name"`
		RequestedBy   string   `json:"requested_by"`
		Justification string   `json:"justification"`
		Targets       []string `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	integ, err := s.workflow.Request(r.Context(), req.Name, req.RequestedBy, req.Justification, req.Targets, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, integ)
}

func (s *Server) handleIntegrationGet(w http.ResponseWriter, r *http.Request) {
	integ, err := s.workflow.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, integ)
}

func (s *Server) handleIntegrationApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver   string `json:"approver"`
		ExpiryDays int    `json:"expiry_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	integ, err := s.workflow.Approve(r.Context(), r.PathValue("id"), req.Approver, req.ExpiryDays, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, integ)
}

func (s *Server) handleIntegrationDeny(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver string `json:"approver"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	if err := s.workflow.Deny(r.Context(), r.PathValue("id"), req.Approver, req.Reason, correlationID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIntegrationRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.workflow.Revoke(r.Context(), r.PathValue("id"), correlationID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIntegrationCheck(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		s.writeError(w, govererr.Validationf("target query parameter is required"))
		return
	}

	d, err := s.workflow.CheckAllowed(r.Context(), r.PathValue("id"), target, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRevocationInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string   `json:"credential_id"`
		Priority     string   `json:"priority"`
		Targets      []string `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	rev, err := s.tracker.Initiate(r.Context(), req.CredentialID, revocation.Priority(req.Priority), req.Targets, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Propagation runs in the background so the initiation response is not
	// held for the slowest target.
	go func() {
		ctx, cancel := context.WithDeadline(context.Background(), rev.SLADeadline)
		defer cancel()
		if _, err := s.tracker.Propagate(ctx, rev.ID); err != nil {
			s.logger.Error("revocation propagation failed",
				zap.String("revocation_id", rev.ID), zap.Error(err))
		}
	}()

	s.writeJSON(w, http.StatusAccepted, rev)
}

func (s *Server) handleRevocationStatus(w http.ResponseWriter, r *http.Request) {
	rev, err := s.tracker.TrackStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rev)
}

func (s *Server) handleRevocationMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.tracker.Metrics(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	q := decision.Query{}
	if v := r.URL.Query().Get("subject_id"); v != "" {
		q.SubjectID = &v
	}
	if v := r.URL.Query().Get("effect"); v != "" {
		q.Effect = &v
	}
	if v := r.URL.Query().Get("resource"); v != "" {
		q.Resource = &v
	}
	if v := r.URL.Query().Get("action"); v != "" {
		q.Action = &v
	}

	if dim := r.URL.Query().Get("aggregate"); dim != "" {
		counts, err := s.decisions.Aggregate(r.Context(), decision.Dimension(dim), q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, counts)
		return
	}

	list, err := s.decisions.List(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	c, err := s.reconstructor.Reconstruct(r.Context(), r.PathValue("correlation_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEvidencePack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Environment    string `json:"environment"`
		HoursBack      int    `json:"hours_back"`
		IncludeMetrics bool   `json:"include_metrics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, govererr.Validationf("invalid body: %v", err))
		return
	}

	pack, err := s.builder.Generate(r.Context(), req.Environment, req.HoursBack, req.IncludeMetrics, correlationID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pack)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, govererr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, govererr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, govererr.ErrApprovalRequired):
		status = http.StatusForbidden
	case errors.Is(err, govererr.ErrDataSourceUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, govererr.ErrIntegrityMismatch):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
