// Package modelclient normalizes calls to external inference backends behind
// one role-based contract. It owns per-role timeouts, bounded retries with
// backoff, and circuit breaking; callers receive typed failures they can
// route on instead of provider-specific errors.
package modelclient

import (
	"fmt"
	"time"
)

// Role is a named category of model capability. The set is closed: unknown
// role names are rejected when configuration is loaded, not at call time.
type Role string

const (
	// RoleRouter decides whether to handle a turn directly or delegate.
	RoleRouter Role = "router"

	// RoleReasoning handles analysis, synthesis, and fallback duty.
	RoleReasoning Role = "reasoning"

	// RoleCoding handles code-centric turns.
	RoleCoding Role = "coding"
)

// Roles lists every valid role.
var Roles = []Role{RoleRouter, RoleReasoning, RoleCoding}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown model role %q", s)
}

// RoleConfig configures one role's backend binding.
type RoleConfig struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// Registry maps each role to its backend configuration. Populated once at
// startup; lookups after that are read-only.
type Registry struct {
	configs map[Role]RoleConfig
}

// NewRegistry builds a registry from per-role configuration. Every name must
// parse as a known role and every role must be configured.
func NewRegistry(configs map[string]RoleConfig) (*Registry, error) {
	out := make(map[Role]RoleConfig, len(configs))
	for name, cfg := range configs {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("role %s: model is required", role)
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = 60 * time.Second
		}
		if cfg.MaxTokens <= 0 {
			cfg.MaxTokens = 4096
		}
		out[role] = cfg
	}
	for _, r := range Roles {
		if _, ok := out[r]; !ok {
			return nil, fmt.Errorf("role %s is not configured", r)
		}
	}
	return &Registry{configs: out}, nil
}

// Config returns the configuration for a role.
func (r *Registry) Config(role Role) (RoleConfig, bool) {
	cfg, ok := r.configs[role]
	return cfg, ok
}
