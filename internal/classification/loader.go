package classification

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// registrySchema is the structural contract for the registry file, enforced
// before any entry is accepted.
const registrySchema = `{
	"type": "object",
	"required": ["tools"],
	"properties": {
		"tools": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "classification", "owner"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"classification": {"enum": ["LOW", "MODERATE", "SENSITIVE"]},
					"owner": {"type": "string", "minLength": 1},
					"external_connectivity": {"type": "string"},
					"justification": {"type": "string"},
					"approval_reference": {"type": "string"},
					"review_interval_days": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

type registryFile struct {
	Tools []Tool `yaml:"tools"`
}

// Load reads the classification registry from a YAML file. A missing file
// degrades to an empty registry; malformed YAML or a structurally invalid
// document is a hard error.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil), nil
		}
		return nil, fmt.Errorf("Load: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw registry YAML.
func Parse(raw []byte) (*Registry, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Parse: invalid yaml: %w", err)
	}
	if err := validateRegistryDoc(doc); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}
	return NewRegistry(file.Tools), nil
}

func validateRegistryDoc(doc any) error {
	c := jsonschema.NewCompiler()

	var schemaObj any
	if err := json.Unmarshal([]byte(registrySchema), &schemaObj); err != nil {
		return fmt.Errorf("schema unmarshal error: %w", err)
	}
	if err := c.AddResource("registry.json", schemaObj); err != nil {
		return fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile("registry.json")
	if err != nil {
		return fmt.Errorf("schema compile error: %w", err)
	}

	// Round-trip through JSON so YAML integers and nested maps take the
	// shapes the validator expects.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("registry normalize error: %w", err)
	}
	var instance any
	if err := json.Unmarshal(normalized, &instance); err != nil {
		return fmt.Errorf("registry normalize error: %w", err)
	}

	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("invalid registry structure: %w", err)
	}
	return nil
}
