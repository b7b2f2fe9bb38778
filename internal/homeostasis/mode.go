// Package homeostasis maintains the global operating mode for the agent.
// A single controller loop polls sensors, evaluates deterministic threshold
// rules, and publishes immutable mode snapshots that the orchestrator and
// tool layer read without locks. Predictability is the design goal: nothing
// in this package is probabilistic or model-driven.
package homeostasis

import (
	"fmt"
	"sync/atomic"
	"time"

	"vagus/internal/modelclient"
)

// Mode is the global operating mode. Exactly one value is live at a time.
type Mode int

const (
	ModeNormal Mode = iota
	ModeAlert
	ModeDegraded
	ModeLockdown
	ModeRecovery
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeAlert:
		return "alert"
	case ModeDegraded:
		return "degraded"
	case ModeLockdown:
		return "lockdown"
	case ModeRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode converts a mode name as it appears in governance policy files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "normal":
		return ModeNormal, nil
	case "alert":
		return ModeAlert, nil
	case "degraded":
		return ModeDegraded, nil
	case "lockdown":
		return ModeLockdown, nil
	case "recovery":
		return ModeRecovery, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// legalEdges is the closed transition graph. Recovery is mandatory after
// Lockdown; there is deliberately no Lockdown→Normal edge.
var legalEdges = map[Mode][]Mode{
	ModeNormal:   {ModeAlert},
	ModeAlert:    {ModeNormal, ModeDegraded, ModeLockdown},
	ModeDegraded: {ModeAlert, ModeLockdown},
	ModeLockdown: {ModeRecovery},
	ModeRecovery: {ModeNormal},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to Mode) bool {
	for _, m := range legalEdges[from] {
		if m == to {
			return true
		}
	}
	return false
}

// Constraints is the active constraint set published alongside the mode.
type Constraints struct {
	AllowedRoles      []modelclient.Role `json:"allowed_roles"`
	MaxToolIterations int                `json:"max_tool_iterations"`
	ConcurrencyLimit  int64              `json:"concurrency_limit"`
	ToolsFrozen       bool               `json:"tools_frozen"`
	RequireApproval   bool               `json:"require_approval"`
}

// RoleAllowed reports whether a model role is permitted under these constraints.
func (c Constraints) RoleAllowed(role modelclient.Role) bool {
	for _, r := range c.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Snapshot is the immutable published state. Readers may observe a snapshot
// at most one poll interval stale; they never observe a partial update.
type Snapshot struct {
	Mode        Mode        `json:"mode"`
	Constraints Constraints `json:"constraints"`
	Since       time.Time   `json:"since"`
	Seq         uint64      `json:"seq"`
}

// Transition is one append-only audit record. Created and logged before the
// new mode becomes visible to readers.
type Transition struct {
	Time      time.Time          `json:"time"`
	From      Mode               `json:"from"`
	To        Mode               `json:"to"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Rationale string             `json:"rationale"`
}

// State is the single atomically-replaceable published value. Only the
// controller writes; everyone else reads via Current.
type State struct {
	snap atomic.Pointer[Snapshot]
}

// NewState creates a published state starting in Normal.
func NewState() *State {
	s := &State{}
	s.snap.Store(&Snapshot{
		Mode:        ModeNormal,
		Constraints: ConstraintsFor(ModeNormal),
		Since:       time.Now(),
	})
	return s
}

// Current returns the latest published snapshot.
func (s *State) Current() Snapshot {
	return *s.snap.Load()
}

// publish swaps in a new snapshot. Controller-only.
func (s *State) publish(snap Snapshot) {
	copied := snap
	s.snap.Store(&copied)
}

// Reader is the read-only mode publication boundary consumed by the
// orchestrator and tool layer.
type Reader interface {
	Current() Snapshot
}
