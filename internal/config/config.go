// Package config holds all vagus configuration: model role bindings, the
// homeostasis cadence and thresholds, governance policy location, and the
// orchestrator limits. Configuration is loaded once at startup; unknown
// role names are rejected at load time, not at call time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vagus/internal/homeostasis"
	"vagus/internal/modelclient"
)

// Config is the full configuration tree.
type Config struct {
	Name string `yaml:"name"`

	Models       ModelsConfig       `yaml:"models"`
	Homeostasis  HomeostasisConfig  `yaml:"homeostasis"`
	Governance   GovernanceConfig   `yaml:"governance"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Audit        AuditConfig        `yaml:"audit"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ModelsConfig binds each role to a backend.
type ModelsConfig struct {
	Roles map[string]RoleConfig `yaml:"roles"`

	MaxRetries  int    `yaml:"max_retries"`
	BackoffBase string `yaml:"backoff_base"`

	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerCooldown  string `yaml:"breaker_cooldown"`
}

// RoleConfig is one role's backend binding. Durations are strings in the
// file ("90s", "2m").
type RoleConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// HomeostasisConfig tunes the controller loop.
type HomeostasisConfig struct {
	PollInterval string                 `yaml:"poll_interval"`
	Thresholds   homeostasis.Thresholds `yaml:"thresholds"`
	EventBuffer  int                    `yaml:"event_buffer"`
}

// GovernanceConfig locates the policy file.
type GovernanceConfig struct {
	PolicyPath string `yaml:"policy_path"`

	// Watch enables live policy reload via atomic swap.
	Watch bool `yaml:"watch"`

	ApprovalTimeout string `yaml:"approval_timeout"`
}

// OrchestratorConfig bounds request handling.
type OrchestratorConfig struct {
	MaxDelegations  int    `yaml:"max_delegations"`
	MonitorInterval string `yaml:"monitor_interval"`
	SystemPrompt    string `yaml:"system_prompt"`
}

// AuditConfig locates the audit database.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name: "vagus",
		Models: ModelsConfig{
			Roles: map[string]RoleConfig{
				string(modelclient.RoleRouter): {
					Model:   "gpt-4o-mini",
					BaseURL: "http://localhost:11434/v1",
					Timeout: "30s",
				},
				string(modelclient.RoleReasoning): {
					Model:   "gpt-4o",
					BaseURL: "http://localhost:11434/v1",
					Timeout: "120s",
				},
				string(modelclient.RoleCoding): {
					Model:   "gpt-4o",
					BaseURL: "http://localhost:11434/v1",
					Timeout: "180s",
				},
			},
			MaxRetries:       3,
			BackoffBase:      "1s",
			BreakerThreshold: 5,
			BreakerCooldown:  "30s",
		},
		Homeostasis: HomeostasisConfig{
			PollInterval: "5s",
			Thresholds:   homeostasis.DefaultThresholds(),
			EventBuffer:  128,
		},
		Governance: GovernanceConfig{
			PolicyPath:      ".vagus/policy.yaml",
			ApprovalTimeout: "30s",
		},
		Orchestrator: OrchestratorConfig{
			MaxDelegations:  1,
			MonitorInterval: "1s",
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    ".vagus/audit.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays VAGUS_* environment variables. API keys are the common
// case: secrets belong in the environment, not the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("VAGUS_API_KEY"); v != "" {
		for name, role := range c.Models.Roles {
			if role.APIKey == "" {
				role.APIKey = v
				c.Models.Roles[name] = role
			}
		}
	}
	if v := os.Getenv("VAGUS_BASE_URL"); v != "" {
		for name, role := range c.Models.Roles {
			role.BaseURL = v
			c.Models.Roles[name] = role
		}
	}
	if v := os.Getenv("VAGUS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VAGUS_POLICY_PATH"); v != "" {
		c.Governance.PolicyPath = v
	}
	if v := os.Getenv("VAGUS_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
}

func (c *Config) validate() error {
	for name := range c.Models.Roles {
		if _, err := modelclient.ParseRole(name); err != nil {
			return fmt.Errorf("models.roles: %w", err)
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"models.backoff_base", c.Models.BackoffBase},
		{"models.breaker_cooldown", c.Models.BreakerCooldown},
		{"homeostasis.poll_interval", c.Homeostasis.PollInterval},
		{"governance.approval_timeout", c.Governance.ApprovalTimeout},
		{"orchestrator.monitor_interval", c.Orchestrator.MonitorInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

// Duration parses a duration field with a fallback for empty or malformed
// values.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// RoleRegistry converts the configured roles into a model client registry.
func (c *Config) RoleRegistry() (*modelclient.Registry, error) {
	roles := make(map[string]modelclient.RoleConfig, len(c.Models.Roles))
	for name, rc := range c.Models.Roles {
		roles[name] = modelclient.RoleConfig{
			Model:       rc.Model,
			BaseURL:     rc.BaseURL,
			APIKey:      rc.APIKey,
			Timeout:     Duration(rc.Timeout, 60*time.Second),
			MaxTokens:   rc.MaxTokens,
			Temperature: rc.Temperature,
		}
	}
	return modelclient.NewRegistry(roles)
}
