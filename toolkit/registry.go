package toolkit

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry maps tool name to Tool. It is read-only after startup (spec.md
// §5's shared-resource policy); Register takes the write lock and lookups
// take only the read lock, so they never contend with each other once
// registration is over.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	compiler *jsonschema.Compiler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		schemas:  make(map[string]*jsonschema.Schema),
		compiler: jsonschema.NewCompiler(),
	}
}

// Register compiles t's parameter schema and adds it to the registry.
// Returns an error if the schema itself is malformed or the name is
// already taken; both are startup-time configuration errors, never
// runtime validation failures.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("toolkit: tool %q already registered", t.Name())
	}

	raw, err := json.Marshal(t.Parameters())
	if err != nil {
		return fmt.Errorf("toolkit: marshal schema for %q: %w", t.Name(), err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("toolkit: decode schema for %q: %w", t.Name(), err)
	}
	resourceName := "tool:" + t.Name()
	if err := r.compiler.AddResource(resourceName, doc); err != nil {
		return fmt.Errorf("toolkit: add schema for %q: %w", t.Name(), err)
	}
	schema, err := r.compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("toolkit: compile schema for %q: %w", t.Name(), err)
	}

	r.tools[t.Name()] = t
	r.schemas[t.Name()] = schema
	return nil
}

// Lookup returns the tool registered under name, or false.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Validate checks args against name's compiled parameter schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownTool
	}
	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}
	return nil
}

// RiskLevel returns the registered risk level for name, or RiskSafe if the
// tool is unknown (an unknown tool fails at Execute's lookup step anyway;
// this is only consulted by outputhandler before that point).
func (r *Registry) RiskLevel(name string) RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tools[name]; ok {
		return t.RiskLevel()
	}
	return RiskSafe
}

// All returns every registered tool, for agent toolGroups filtering.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
