package revocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPPropagator pushes revocations to target systems over their revocation
// endpoints: POST <target>/v1/revocations with the credential id.
type HTTPPropagator struct {
	client *http.Client
}

// NewHTTPPropagator creates a propagator with the given request timeout.
func NewHTTPPropagator(timeout time.Duration) *HTTPPropagator {
	return &HTTPPropagator{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPropagator) Propagate(ctx context.Context, target, credentialID string) error {
	body, err := json.Marshal(map[string]string{"credential_id": credentialID})
	if err != nil {
		return fmt.Errorf("Propagate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+"/v1/revocations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Propagate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("Propagate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Propagate: target %s returned %d", target, resp.StatusCode)
	}
	return nil
}

// HTTPChecker verifies a revoked credential is actually rejected by the
// verification endpoint: a 401 or 403 means access is blocked.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPChecker creates a checker against the given verification base URL.
func NewHTTPChecker(baseURL string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) AccessBlocked(ctx context.Context, credentialID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/whoami", nil)
	if err != nil {
		return false, fmt.Errorf("AccessBlocked: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credentialID)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("AccessBlocked: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden, nil
}
