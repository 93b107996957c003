package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parallaxsec/agentgov/internal/govererr"
)

// FileDirectory reads principal records from a YAML inventory file. The file
// is re-read on every listing, so inventory edits show up on the next
// aggregation without a restart.
type FileDirectory struct {
	path string
}

// NewFileDirectory creates a directory backed by the given inventory file.
func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

type inventoryFile struct {
	Principals []inventoryRecord `yaml:"principals"`
}

type inventoryRecord struct {
	ID          string            `yaml:"id"`
	Type        string            `yaml:"type"`
	Environment string            `yaml:"environment"`
	CreatedAt   time.Time         `yaml:"created_at"`
	LastUsedAt  *time.Time        `yaml:"last_used_at"`
	Tags        map[string]string `yaml:"tags"`
	Policies    []inventoryPolicy `yaml:"policies"`
}

type inventoryPolicy struct {
	Actions   []string `yaml:"actions"`
	Resources []string `yaml:"resources"`
}

func (d *FileDirectory) ListPrincipals(_ context.Context, environmentFilter string) (*Listing, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("ListPrincipals: %w", errors.Join(govererr.ErrDataSourceUnavailable, err))
	}

	var file inventoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("ListPrincipals: %s: %w", d.path, err)
	}

	listing := &Listing{}
	for _, rec := range file.Principals {
		if rec.ID == "" {
			return nil, fmt.Errorf("ListPrincipals: %s: %w", d.path, govererr.Validationf("principal missing id"))
		}
		if environmentFilter != "" && rec.Environment != environmentFilter {
			continue
		}
		out := Record{
			ID:          rec.ID,
			Type:        rec.Type,
			Environment: rec.Environment,
			CreatedAt:   rec.CreatedAt,
			LastUsedAt:  rec.LastUsedAt,
			Tags:        rec.Tags,
		}
		for _, pol := range rec.Policies {
			out.Policies = append(out.Policies, PolicyDocument(pol))
		}
		listing.Records = append(listing.Records, out)
	}
	return listing, nil
}
