// Package classification loads and serves the tool classification registry:
// a static table mapping tool ids to sensitivity classification, approval
// requirements, and review intervals.
package classification

// Level is the closed set of tool sensitivity classifications.
type Level string

const (
	LevelLow       Level = "LOW"
	LevelModerate  Level = "MODERATE"
	LevelSensitive Level = "SENSITIVE"
)

// Tool is one registry entry.
type Tool struct {
	ID                   string `yaml:"id"`
	Classification       Level  `yaml:"classification"`
	Owner                string `yaml:"owner"`
	ExternalConnectivity string `yaml:"external_connectivity"`
	Justification        string `yaml:"justification"`
	ApprovalReference    string `yaml:"approval_reference"`
	ReviewIntervalDays   int    `yaml:"review_interval_days"`
}

// Registry is the loaded classification table, keyed by tool id.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from entries. Later duplicates win.
func NewRegistry(tools []Tool) *Registry {
	index := make(map[string]Tool, len(tools))
	for _, t := range tools {
		index[t.ID] = t
	}
	return &Registry{tools: index}
}

// Lookup returns the entry for a tool id, or nil if the tool is not
// registered.
func (r *Registry) Lookup(toolID string) *Tool {
	t, ok := r.tools[toolID]
	if !ok {
		return nil
	}
	return &t
}

// RequiresApproval reports whether a tool needs an approval record before
// activation. True exactly for SENSITIVE tools; unregistered tools never
// require approval.
func (r *Registry) RequiresApproval(toolID string) bool {
	t := r.Lookup(toolID)
	return t != nil && t.Classification == LevelSensitive
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
