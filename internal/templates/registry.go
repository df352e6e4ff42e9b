// Package templates loads the entity-type definitions that parameterize
// the graph: expected attributes per entity type and relationship rules
// used to classify resolved references beyond the generic "reference" kind.
package templates

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/halvard/othala/internal/models"
)

// AttributeDef names one recognized attribute of an entity type.
type AttributeDef struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// EntityDef describes one entity type.
type EntityDef struct {
	Attributes []AttributeDef `yaml:"attributes"`
}

// RelationRule classifies edges between two entity types. Source and
// Target accept "*" as a wildcard.
type RelationRule struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Kind   string `yaml:"kind"`
}

// Registry holds the loaded template definitions.
type Registry struct {
	Entities  map[string]EntityDef `yaml:"entities"`
	Relations []RelationRule       `yaml:"relations"`
}

// Load reads a registry from a YAML file. A missing file yields an empty
// registry: every edge then classifies as the default kind.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("templates: read %s: %w", path, err)
	}
	var reg Registry
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &reg); err != nil {
		return nil, fmt.Errorf("templates: parse %s: %w", path, err)
	}
	return &reg, nil
}

// Classify returns the relationship kind for an edge between the two
// entity types. The first matching rule wins; with no match the default
// "reference" kind applies.
func (r *Registry) Classify(sourceType, targetType string) string {
	for _, rule := range r.Relations {
		if rule.Kind == "" {
			continue
		}
		if matches(rule.Source, sourceType) && matches(rule.Target, targetType) {
			return rule.Kind
		}
	}
	return models.DefaultEdgeKind
}

func matches(pattern, typ string) bool {
	return pattern == "*" || pattern == typ
}
