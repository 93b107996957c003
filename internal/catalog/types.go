// Package catalog aggregates raw principal records from the platform
// directory into normalized, immutable snapshots. Snapshots are replaced
// wholesale on each aggregation run, never patched in place.
package catalog

import "time"

// PrincipalType is the closed set of governed identity roles.
type PrincipalType string

const (
	TypeExecution   PrincipalType = "execution"
	TypeGateway     PrincipalType = "gateway"
	TypeProvisioner PrincipalType = "provisioner"
	TypeTool        PrincipalType = "tool"
	TypeKnowledge   PrincipalType = "knowledge"
)

// PrincipalStatus transitions are monotonic: active → deprecated → revoked.
type PrincipalStatus string

const (
	StatusActive     PrincipalStatus = "active"
	StatusDeprecated PrincipalStatus = "deprecated"
	StatusRevoked    PrincipalStatus = "revoked"
)

// RiskRating classifies a principal by score and usage recency.
type RiskRating string

const (
	RiskLow      RiskRating = "LOW"
	RiskModerate RiskRating = "MODERATE"
	RiskHigh     RiskRating = "HIGH"
)

// ScopeWideness is the closed set of resource scope tiers. No tiers exist
// beyond these three.
type ScopeWideness string

const (
	ScopeNarrow   ScopeWideness = "NARROW"
	ScopeModerate ScopeWideness = "MODERATE"
	ScopeBroad    ScopeWideness = "BROAD"
)

// PolicyFootprint summarizes the policies attached to a principal.
type PolicyFootprint struct {
	AttachedPolicyCount int
	ActionCount         int
	WildcardActions     []string
	ResourceScopeWidth  ScopeWideness
	LeastPrivilegeScore float64
}

// Principal is a governed identity within one catalog snapshot.
type Principal struct {
	ID          string
	Type        PrincipalType
	Environment string
	Owner       string
	Purpose     string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	Status      PrincipalStatus
	Footprint   PolicyFootprint
	RiskRating  RiskRating
	Inactive    bool
	Orphan      bool
}

// Snapshot is one immutable aggregation result. Degraded marks a snapshot
// built while part of the directory was unavailable: the catalog is
// incomplete, not wrong.
type Snapshot struct {
	Principals  []Principal
	Environment string
	GeneratedAt time.Time
	Degraded    bool
}

// Page is one slice of a paginated inventory listing.
type Page struct {
	Principals []Principal
	NextCursor string
}
