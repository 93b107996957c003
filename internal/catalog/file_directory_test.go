package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

const sampleInventory = `principals:
  - id: agent-exec-1
    type: execution_role
    environment: production
    created_at: 2026-01-10T00:00:00Z
    last_used_at: 2026-08-01T12:00:00Z
    tags:
      Owner: platform-team
      Purpose: order processing
    policies:
      - actions: ["orders:Read", "orders:Write"]
        resources: ["orders/*"]
  - id: tool-search-1
    type: tool_identity
    environment: staging
    created_at: 2026-02-01T00:00:00Z
    tags:
      Owner: search-team
      Purpose: web search
    policies:
      - actions: ["search:Query"]
        resources: ["indexes/web"]
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileDirectory_ListPrincipals(t *testing.T) {
	d := NewFileDirectory(writeInventory(t, sampleInventory))

	listing, err := d.ListPrincipals(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(listing.Records))
	}

	rec := listing.Records[0]
	if rec.ID != "agent-exec-1" || rec.Tags["Owner"] != "platform-team" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LastUsedAt == nil {
		t.Fatal("last_used_at must parse")
	}
	if len(rec.Policies) != 1 || len(rec.Policies[0].Actions) != 2 {
		t.Fatalf("unexpected policies: %+v", rec.Policies)
	}
	if listing.Records[1].LastUsedAt != nil {
		t.Fatal("absent last_used_at must stay nil")
	}
}

func TestFileDirectory_EnvironmentFilter(t *testing.T) {
	d := NewFileDirectory(writeInventory(t, sampleInventory))

	listing, err := d.ListPrincipals(context.Background(), "staging")
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Records) != 1 || listing.Records[0].ID != "tool-search-1" {
		t.Fatalf("unexpected filtered listing: %+v", listing.Records)
	}
}

func TestFileDirectory_MissingFileIsUnavailable(t *testing.T) {
	d := NewFileDirectory(filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := d.ListPrincipals(context.Background(), "")
	if !errors.Is(err, govererr.ErrDataSourceUnavailable) {
		t.Fatalf("expected data source unavailable, got %v", err)
	}
}

func TestFileDirectory_MalformedYAML(t *testing.T) {
	d := NewFileDirectory(writeInventory(t, "principals: [{id: x, type: ["))

	if _, err := d.ListPrincipals(context.Background(), ""); err == nil {
		t.Fatal("malformed inventory must fail")
	}
}

func TestFileDirectory_MissingID(t *testing.T) {
	d := NewFileDirectory(writeInventory(t, "principals:\n  - type: execution_role\n"))

	_, err := d.ListPrincipals(context.Background(), "")
	if !errors.Is(err, govererr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
