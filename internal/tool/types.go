// Package tool provides the governed tool-execution layer. Every invocation
// passes four checks in order (mode, approval, rate, arguments) before the
// implementation runs; any failure short-circuits with a specific denial
// reason and no side effects.
package tool

import (
	"context"
	"time"

	"vagus/internal/governance"
)

// Property describes one parameter for the JSON schema advertised to models.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// Schema defines the expected arguments for a tool.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool implementations.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Definition is a typed action registered once at startup and immutable
// thereafter. Governance attributes declared here are defaults; an explicit
// entry in the governance policy file overrides them.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Execute     ExecuteFunc

	// Rule holds the declared governance defaults for this tool.
	Rule governance.ToolRule

	// PathParams names the arguments validated against path allow/deny
	// rules. Empty means the common names (path, file, dir, target).
	PathParams []string
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return ErrNameEmpty
	}
	if d.Execute == nil {
		return ErrExecuteNil
	}
	return nil
}

// Result reports one invocation. A denied invocation carries the denial
// reason and guarantees the implementation never ran.
type Result struct {
	Tool     string            `json:"tool"`
	Success  bool              `json:"success"`
	Output   string            `json:"output,omitempty"`
	Error    string            `json:"error,omitempty"`
	Denied   bool              `json:"denied,omitempty"`
	Latency  time.Duration     `json:"latency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Denial reasons returned verbatim in Result.Error.
const (
	ReasonModeNotPermitted = "mode not permitted"
	ReasonToolsFrozen      = "tool execution frozen"
	ReasonApprovalMissing  = "approval required but no approver configured"
	ReasonApprovalDenied   = "approval denied"
	ReasonApprovalTimeout  = "approval timed out"
	ReasonRateLimited      = "rate limit exceeded"
)

// ApprovalRequest is sent to the Approver when a tool+mode combination
// requires human confirmation.
type ApprovalRequest struct {
	Tool     string
	RiskTier governance.RiskTier
	Mode     string
	Args     map[string]any
}

// Approver supplies the external approval signal. Decide must return within
// the caller's context deadline; expiry counts as denial.
type Approver interface {
	Decide(ctx context.Context, req ApprovalRequest) (bool, error)
}
