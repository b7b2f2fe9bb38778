package tool

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"vagus/internal/logging"
	"vagus/internal/modelclient"
)

// Registry holds all registered tools. Registration happens at startup;
// Freeze makes the registry immutable for the process lifetime.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Definition
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool. Duplicate names are rejected and registration after
// Freeze fails.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name)
	}

	r.tools[def.Name] = def
	logging.For("tools").Debug("registered tool",
		zap.String("tool", def.Name),
		zap.String("risk_tier", string(def.Rule.RiskTier)),
	)
	return nil
}

// MustRegister registers a tool and panics on error. For static startup
// registration only.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", def.Name, err))
	}
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas exports every tool as a model-facing schema list.
func (r *Registry) Schemas() []modelclient.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]modelclient.ToolSchema, 0, len(r.tools))
	for _, def := range r.tools {
		props := make(map[string]any, len(def.Schema.Properties))
		for name, p := range def.Schema.Properties {
			prop := map[string]any{"type": p.Type, "description": p.Description}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			props[name] = prop
		}
		out = append(out, modelclient.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   def.Schema.Required,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
