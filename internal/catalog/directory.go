package catalog

import (
	"context"
	"time"
)

// PolicyDocument is one policy statement set attached to a raw principal
// record, reduced to the fields footprint computation needs.
type PolicyDocument struct {
	Actions   []string
	Resources []string
}

// Record is a raw principal record as returned by the platform directory.
type Record struct {
	ID          string
	Type        string
	Environment string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	Tags        map[string]string
	Policies    []PolicyDocument
}

// Listing is the directory's response for one environment query. Degraded is
// set when part of the directory could not be reached; the records that did
// load are still included.
type Listing struct {
	Records  []Record
	Degraded bool
}

// Directory is the external collaborator that discovers raw principal
// records. A hard failure returns an error wrapping
// govererr.ErrDataSourceUnavailable; a partial failure returns the records
// that loaded with Degraded set.
type Directory interface {
	ListPrincipals(ctx context.Context, environmentFilter string) (*Listing, error)
}

// StaticDirectory serves a fixed record set. Used in tests and local
// development.
type StaticDirectory struct {
	Records []Record
}

func (d *StaticDirectory) ListPrincipals(_ context.Context, environmentFilter string) (*Listing, error) {
	if environmentFilter == "" {
		return &Listing{Records: d.Records}, nil
	}
	var filtered []Record
	for _, r := range d.Records {
		if r.Environment == environmentFilter {
			filtered = append(filtered, r)
		}
	}
	return &Listing{Records: filtered}, nil
}
