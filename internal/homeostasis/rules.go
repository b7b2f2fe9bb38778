package homeostasis

import (
	"fmt"

	"vagus/internal/modelclient"
	"vagus/internal/sensor"
)

// Thresholds are the deterministic rule parameters. A rule fires only after
// its condition holds for SustainCycles consecutive samples; de-escalation
// edges require RecoverCycles consecutive calm samples.
type Thresholds struct {
	CPUAlert    float64 `yaml:"cpu_alert"`
	CPUDegraded float64 `yaml:"cpu_degraded"`

	MemoryAlert    float64 `yaml:"memory_alert"`
	MemoryDegraded float64 `yaml:"memory_degraded"`

	DiskAlert float64 `yaml:"disk_alert"`

	// BlockedCallsAlert is the per-cycle blocked-invocation count that
	// counts as pressure.
	BlockedCallsAlert int `yaml:"blocked_calls_alert"`

	// ViolationsLockdown is the per-cycle policy-violation count that
	// triggers an immediate escalation toward Lockdown.
	ViolationsLockdown int `yaml:"violations_lockdown"`

	SustainCycles int `yaml:"sustain_cycles"`
	RecoverCycles int `yaml:"recover_cycles"`
}

// DefaultThresholds returns conservative production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUAlert:           85,
		CPUDegraded:        95,
		MemoryAlert:        85,
		MemoryDegraded:     95,
		DiskAlert:          90,
		BlockedCallsAlert:  3,
		ViolationsLockdown: 3,
		SustainCycles:      3,
		RecoverCycles:      5,
	}
}

// severity grades one snapshot against the thresholds.
type severity int

const (
	sevCalm severity = iota
	sevElevated
	sevCritical
	sevBreach
)

// grade is a pure function of one snapshot and the thresholds.
func (t Thresholds) grade(s sensor.Snapshot) (severity, map[string]float64) {
	metrics := map[string]float64{
		"cpu_percent":       s.CPUPercent,
		"memory_percent":    s.MemoryPercent,
		"disk_percent":      s.DiskPercent,
		"blocked_calls":     float64(s.BlockedCalls),
		"policy_violations": float64(s.PolicyViolations),
	}

	switch {
	case s.PolicyViolations >= t.ViolationsLockdown:
		return sevBreach, metrics
	case s.CPUPercent >= t.CPUDegraded || s.MemoryPercent >= t.MemoryDegraded:
		return sevCritical, metrics
	case s.CPUPercent >= t.CPUAlert || s.MemoryPercent >= t.MemoryAlert ||
		s.DiskPercent >= t.DiskAlert || s.BlockedCalls >= t.BlockedCallsAlert:
		return sevElevated, metrics
	default:
		return sevCalm, metrics
	}
}

// ruleState holds the sustain counters between cycles. Owned by the
// controller loop; never shared.
type ruleState struct {
	elevated int // consecutive cycles at sevElevated or worse
	critical int // consecutive cycles at sevCritical or worse
	breach   int // consecutive cycles at sevBreach
	calm     int // consecutive cycles at sevCalm
}

func (r *ruleState) observe(s severity) {
	if s >= sevElevated {
		r.elevated++
	} else {
		r.elevated = 0
	}
	if s >= sevCritical {
		r.critical++
	} else {
		r.critical = 0
	}
	if s >= sevBreach {
		r.breach++
	} else {
		r.breach = 0
	}
	if s == sevCalm {
		r.calm++
	} else {
		r.calm = 0
	}
}

// decide returns the next mode along a legal edge, or the current mode when
// no rule fires. Deterministic: depends only on counters and the current mode.
func (t Thresholds) decide(current Mode, r *ruleState) (Mode, string) {
	sustain := t.SustainCycles
	if sustain < 1 {
		sustain = 1
	}
	settle := t.RecoverCycles
	if settle < 1 {
		settle = 1
	}

	switch current {
	case ModeNormal:
		if r.breach >= 1 {
			// Breaches escalate one edge per cycle; Normal cannot jump to Lockdown.
			return ModeAlert, "policy violation pressure"
		}
		if r.elevated >= sustain {
			return ModeAlert, fmt.Sprintf("elevated load sustained for %d cycles", r.elevated)
		}
	case ModeAlert:
		if r.breach >= 1 {
			return ModeLockdown, "policy violation threshold reached"
		}
		if r.critical >= sustain {
			return ModeDegraded, fmt.Sprintf("critical load sustained for %d cycles", r.critical)
		}
		if r.calm >= settle {
			return ModeNormal, fmt.Sprintf("calm for %d cycles", r.calm)
		}
	case ModeDegraded:
		if r.breach >= 1 {
			return ModeLockdown, "policy violation threshold reached"
		}
		if r.calm >= settle {
			return ModeAlert, fmt.Sprintf("calm for %d cycles", r.calm)
		}
	case ModeLockdown:
		if r.calm >= settle {
			return ModeRecovery, fmt.Sprintf("calm for %d cycles", r.calm)
		}
	case ModeRecovery:
		if r.calm >= settle {
			return ModeNormal, fmt.Sprintf("calm for %d cycles", r.calm)
		}
	}
	return current, ""
}

// ConstraintsFor is the base constraint table per mode.
func ConstraintsFor(m Mode) Constraints {
	allRoles := []modelclient.Role{modelclient.RoleRouter, modelclient.RoleReasoning, modelclient.RoleCoding}
	reduced := []modelclient.Role{modelclient.RoleRouter, modelclient.RoleReasoning}

	switch m {
	case ModeAlert:
		return Constraints{AllowedRoles: allRoles, MaxToolIterations: 2, ConcurrencyLimit: 4}
	case ModeDegraded:
		return Constraints{AllowedRoles: reduced, MaxToolIterations: 1, ConcurrencyLimit: 2}
	case ModeLockdown:
		return Constraints{AllowedRoles: []modelclient.Role{modelclient.RoleRouter}, MaxToolIterations: 0, ConcurrencyLimit: 1}
	case ModeRecovery:
		return Constraints{AllowedRoles: reduced, MaxToolIterations: 1, ConcurrencyLimit: 2}
	default:
		return Constraints{AllowedRoles: allRoles, MaxToolIterations: 3, ConcurrencyLimit: 8}
	}
}

// Reflex is a declarative stabilizing effect bound to a mode. Adding
// mode-specific behavior means adding a reflex here, not branching elsewhere.
type Reflex struct {
	Name  string
	Apply func(c *Constraints)
}

// defaultReflexes bind stabilizing effects to the modes that need them.
var defaultReflexes = map[Mode][]Reflex{
	ModeDegraded: {
		{Name: "reduce_concurrency", Apply: func(c *Constraints) {
			if c.ConcurrencyLimit > 2 {
				c.ConcurrencyLimit = 2
			}
		}},
	},
	ModeLockdown: {
		{Name: "freeze_tools", Apply: func(c *Constraints) {
			c.ToolsFrozen = true
			c.MaxToolIterations = 0
		}},
	},
	ModeRecovery: {
		{Name: "require_approval", Apply: func(c *Constraints) {
			c.RequireApproval = true
		}},
	},
}
