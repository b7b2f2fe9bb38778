package governance

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vagus/internal/homeostasis"
)

// raw yaml shapes; durations are strings in the file, matching the config
// package convention.

type rawPolicy struct {
	Default rawToolRule            `yaml:"default"`
	Tools   map[string]rawToolRule `yaml:"tools"`
}

type rawToolRule struct {
	RiskTier         string       `yaml:"risk_tier"`
	AllowedModes     []string     `yaml:"allowed_modes"`
	RequiresApproval bool         `yaml:"requires_approval"`
	RequiresSandbox  bool         `yaml:"requires_sandbox"`
	Timeout          string       `yaml:"timeout"`
	RateLimit        rawRateRule  `yaml:"rate_limit"`
	Args             rawArgsRules `yaml:"args"`
}

type rawRateRule struct {
	MaxCalls int    `yaml:"max_calls"`
	Window   string `yaml:"window"`
}

type rawArgsRules struct {
	PathAllow   []string `yaml:"path_allow"`
	PathDeny    []string `yaml:"path_deny"`
	MaxArgBytes int      `yaml:"max_arg_bytes"`
}

// Load reads and validates a policy file. Unknown mode or tier names are
// rejected here, at load time, never at call time.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data)
}

// Parse validates policy bytes.
func Parse(data []byte) (*Policy, error) {
	var raw rawPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	policy := &Policy{Tools: make(map[string]ToolRule, len(raw.Tools))}

	def, err := convertRule("default", raw.Default)
	if err != nil {
		return nil, err
	}
	if len(def.AllowedModes) == 0 {
		// Unlisted tools are conservative: Normal only.
		def.AllowedModes = []homeostasis.Mode{homeostasis.ModeNormal}
	}
	if def.Timeout == 0 {
		def.Timeout = 30 * time.Second
	}
	policy.Default = def

	for name, rr := range raw.Tools {
		rule, err := convertRule(name, rr)
		if err != nil {
			return nil, err
		}
		if len(rule.AllowedModes) == 0 {
			rule.AllowedModes = def.AllowedModes
		}
		if rule.Timeout == 0 {
			rule.Timeout = def.Timeout
		}
		policy.Tools[name] = rule
	}
	return policy, nil
}

func convertRule(name string, raw rawToolRule) (ToolRule, error) {
	tier, err := ParseRiskTier(raw.RiskTier)
	if err != nil {
		return ToolRule{}, fmt.Errorf("tool %s: %w", name, err)
	}

	rule := ToolRule{
		RiskTier:         tier,
		RequiresApproval: raw.RequiresApproval,
		RequiresSandbox:  raw.RequiresSandbox,
		Args: ArgRules{
			PathAllow:   raw.Args.PathAllow,
			PathDeny:    raw.Args.PathDeny,
			MaxArgBytes: raw.Args.MaxArgBytes,
		},
	}

	for _, ms := range raw.AllowedModes {
		mode, err := homeostasis.ParseMode(ms)
		if err != nil {
			return ToolRule{}, fmt.Errorf("tool %s: %w", name, err)
		}
		rule.AllowedModes = append(rule.AllowedModes, mode)
	}

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return ToolRule{}, fmt.Errorf("tool %s: invalid timeout: %w", name, err)
		}
		rule.Timeout = d
	}

	if raw.RateLimit.MaxCalls > 0 {
		if raw.RateLimit.Window == "" {
			return ToolRule{}, fmt.Errorf("tool %s: rate_limit.window is required when max_calls is set", name)
		}
		w, err := time.ParseDuration(raw.RateLimit.Window)
		if err != nil {
			return ToolRule{}, fmt.Errorf("tool %s: invalid rate window: %w", name, err)
		}
		rule.Rate = RateRule{MaxCalls: raw.RateLimit.MaxCalls, Window: w}
	}

	return rule, nil
}
