// Package governance holds the static rules gating tool execution: allowed
// modes, approval and sandbox requirements, rate budgets, and argument
// validation rules. Policy is loaded once at startup and treated as
// immutable; the optional file watcher replaces it only by atomic swap.
package governance

import (
	"fmt"
	"path"
	"strings"
	"time"

	"vagus/internal/homeostasis"
)

// RiskTier grades the blast radius of a tool.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// ParseRiskTier validates a tier name.
func ParseRiskTier(s string) (RiskTier, error) {
	switch RiskTier(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskTier(s), nil
	case "":
		return RiskLow, nil
	default:
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
}

// RateRule is a rolling-window invocation budget.
type RateRule struct {
	MaxCalls int
	Window   time.Duration
}

// Enabled reports whether the rule constrains anything.
func (r RateRule) Enabled() bool { return r.MaxCalls > 0 && r.Window > 0 }

// ArgRules validate concrete arguments before execution.
type ArgRules struct {
	// PathAllow, when non-empty, requires every path-typed argument to
	// match at least one pattern. PathDeny always wins over PathAllow.
	PathAllow []string
	PathDeny  []string

	// MaxArgBytes caps the total serialized argument size. 0 = unlimited.
	MaxArgBytes int
}

// ToolRule is the complete governance rule for one tool.
type ToolRule struct {
	RiskTier         RiskTier
	AllowedModes     []homeostasis.Mode
	RequiresApproval bool
	RequiresSandbox  bool
	Timeout          time.Duration
	Rate             RateRule
	Args             ArgRules
}

// ModeAllowed reports whether the tool may run in the given mode.
func (r ToolRule) ModeAllowed(m homeostasis.Mode) bool {
	for _, allowed := range r.AllowedModes {
		if allowed == m {
			return true
		}
	}
	return false
}

// Policy is the full loaded rule set.
type Policy struct {
	Tools map[string]ToolRule

	// Default applies to tools without an explicit rule.
	Default ToolRule
}

// RuleFor returns the rule governing a tool.
func (p *Policy) RuleFor(name string) ToolRule {
	if rule, ok := p.Tools[name]; ok {
		return rule
	}
	return p.Default
}

// MatchPath tests one path against a glob pattern. Patterns ending in "/**"
// match any path under the prefix; otherwise path.Match semantics apply to
// the slash-normalized path.
func MatchPath(pattern, p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}
