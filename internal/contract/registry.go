package contract

import (
	"fmt"
	"sort"
	"sync"
)

// Schema constrains the payload of one agent type at one stage for one
// version. Versioning is additive-only: a later registration of the same
// version may add optional fields but may never remove or retype a required
// field. Breaking changes require a new version identifier.
type Schema struct {
	Version   string
	AgentType AgentType
	Stage     Stage
	Required  []string
	Optional  []string
	Types     map[string]FieldKind
}

// Key returns the registry key for the schema.
func (s Schema) Key() string {
	return fmt.Sprintf("%s/%s@%s", s.AgentType, s.Stage, s.Version)
}

// Registry holds registered schemas keyed by agent type, stage and version.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds or extends a schema. Re-registering an existing version is
// allowed only when the change is additive; removing or retyping a required
// field is rejected.
func (r *Registry) Register(s Schema) error {
	if s.Version == "" || s.AgentType == "" || !s.Stage.Valid() {
		return fmt.Errorf("incomplete schema %q: version, agent type and stage are required", s.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.Key()
	existing, ok := r.schemas[key]
	if !ok {
		r.schemas[key] = normalize(s)
		return nil
	}

	for _, field := range existing.Required {
		if !contains(s.Required, field) {
			return fmt.Errorf("schema %s: removing required field %q requires a new version", key, field)
		}
		if old, okOld := existing.Types[field]; okOld {
			if updated, okNew := s.Types[field]; okNew && updated != old {
				return fmt.Errorf("schema %s: retyping field %q from %s to %s requires a new version", key, field, old, updated)
			}
		}
	}

	r.schemas[key] = normalize(s)
	return nil
}

// Lookup returns the schema for the agent type, stage and version.
func (r *Registry) Lookup(agentType AgentType, stage Stage, version string) (Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := Schema{Version: version, AgentType: agentType, Stage: stage}.Key()
	s, ok := r.schemas[key]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownSchema, key)
	}
	return s, nil
}

// Versions lists the registered versions for an agent type and stage.
func (r *Registry) Versions(agentType AgentType, stage Stage) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []string
	for _, s := range r.schemas {
		if s.AgentType == agentType && s.Stage == stage {
			versions = append(versions, s.Version)
		}
	}
	sort.Strings(versions)
	return versions
}

func normalize(s Schema) Schema {
	if s.Types == nil {
		s.Types = make(map[string]FieldKind)
	}
	return s
}

func contains(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}
