package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"vagus/internal/governance"
	"vagus/internal/homeostasis"
	"vagus/internal/logging"
	"vagus/internal/sensor"
)

// semCapacity is the weighted-semaphore capacity used to translate the
// published concurrency ceiling into acquisition weights.
const semCapacity = 64

var defaultPathParams = []string{"path", "file", "dir", "target"}

// Executor gates every tool invocation behind the governance checks and
// executes the implementation inside a panic-containing, time-boxed runner.
type Executor struct {
	registry *Registry
	policy   *governance.Store
	modes    homeostasis.Reader
	approver Approver
	bus      *sensor.Bus
	log      *zap.Logger

	limiter *rateLimiter
	sem     *semaphore.Weighted

	approvalTimeout time.Duration
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithApprover wires the external approval signal source.
func WithApprover(a Approver) ExecutorOption {
	return func(e *Executor) { e.approver = a }
}

// WithEventBus wires the sensor bus receiving blocked/violation events.
func WithEventBus(b *sensor.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = b }
}

// WithApprovalTimeout bounds how long an approval may stay pending.
func WithApprovalTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.approvalTimeout = d }
}

// NewExecutor creates the execution layer over a frozen registry, the
// governance policy store, and the published mode state.
func NewExecutor(registry *Registry, policy *governance.Store, modes homeostasis.Reader, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:        registry,
		policy:          policy,
		modes:           modes,
		log:             logging.For("tools"),
		limiter:         newRateLimiter(),
		sem:             semaphore.NewWeighted(semCapacity),
		approvalTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the named tool through the full check sequence. The returned
// Result is always non-nil; implementation panics and errors become failed
// results, never crashes.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) *Result {
	start := time.Now()

	def := e.registry.Get(name)
	if def == nil {
		return &Result{Tool: name, Error: fmt.Sprintf("%v: %s", ErrNotFound, name), Latency: time.Since(start)}
	}

	rule := e.ruleFor(def)
	snap := e.modes.Current()

	// Check 1: mode.
	if snap.Constraints.ToolsFrozen {
		return e.deny(def, start, ReasonToolsFrozen, snap.Mode)
	}
	if !rule.ModeAllowed(snap.Mode) {
		return e.deny(def, start, ReasonModeNotPermitted, snap.Mode)
	}

	// Check 2: approval.
	requiresApproval := rule.RequiresApproval || snap.Constraints.RequireApproval
	if requiresApproval {
		if reason := e.awaitApproval(ctx, def, rule, snap); reason != "" {
			return e.deny(def, start, reason, snap.Mode)
		}
	}

	// Check 3: rate.
	if !e.limiter.allow(def.Name, rule.Rate, time.Now()) {
		return e.deny(def, start, ReasonRateLimited, snap.Mode)
	}

	// Check 4: arguments.
	if err := e.validateArgs(def, rule, args); err != nil {
		if e.bus != nil {
			e.bus.Publish(sensor.Event{Kind: sensor.EventPolicyViolation, Tool: def.Name, Detail: err.Error()})
		}
		return &Result{
			Tool:    def.Name,
			Denied:  true,
			Error:   err.Error(),
			Latency: time.Since(start),
		}
	}

	// All checks passed; anything from here on is an execution outcome,
	// not a governance one.
	if e.bus != nil && (rule.RiskTier == governance.RiskHigh || rule.RiskTier == governance.RiskCritical) {
		e.bus.Publish(sensor.Event{Kind: sensor.EventHighRiskAttempt, Tool: def.Name})
	}

	weight := semWeight(snap.Constraints.ConcurrencyLimit)
	if err := e.sem.Acquire(ctx, weight); err != nil {
		return &Result{Tool: def.Name, Error: fmt.Sprintf("cancelled while waiting for execution slot: %v", err), Latency: time.Since(start)}
	}
	defer e.sem.Release(weight)

	output, err := runBoxed(ctx, rule.Timeout, def.Execute, args)
	latency := time.Since(start)

	result := &Result{
		Tool:    def.Name,
		Success: err == nil,
		Output:  output,
		Latency: latency,
		Metadata: map[string]string{
			"risk_tier": string(rule.RiskTier),
			"sandboxed": strconv.FormatBool(rule.RequiresSandbox),
			"mode":      snap.Mode.String(),
		},
	}
	if err != nil {
		result.Error = err.Error()
	}

	e.log.Debug("tool executed",
		zap.String("tool", def.Name),
		zap.Bool("success", result.Success),
		zap.Duration("latency", latency),
	)
	return result
}

// ruleFor resolves the effective governance rule: an explicit policy entry
// overrides the registered defaults.
func (e *Executor) ruleFor(def *Definition) governance.ToolRule {
	if e.policy != nil {
		if p := e.policy.Current(); p != nil {
			if rule, ok := p.Tools[def.Name]; ok {
				return rule
			}
		}
	}
	rule := def.Rule
	if len(rule.AllowedModes) == 0 {
		rule.AllowedModes = []homeostasis.Mode{homeostasis.ModeNormal}
	}
	if rule.Timeout == 0 {
		rule.Timeout = 30 * time.Second
	}
	return rule
}

// deny records a blocked invocation and returns its denial result. No
// telemetry suggests the action occurred.
func (e *Executor) deny(def *Definition, start time.Time, reason string, mode homeostasis.Mode) *Result {
	if e.bus != nil {
		e.bus.Publish(sensor.Event{Kind: sensor.EventToolBlocked, Tool: def.Name, Detail: reason})
	}
	e.log.Info("tool invocation denied",
		zap.String("tool", def.Name),
		zap.String("reason", reason),
		zap.String("mode", mode.String()),
	)
	return &Result{
		Tool:    def.Name,
		Denied:  true,
		Error:   reason,
		Latency: time.Since(start),
	}
}

// awaitApproval blocks until the approver decides or the approval timeout
// elapses. Timeout and approver errors both count as denial.
func (e *Executor) awaitApproval(ctx context.Context, def *Definition, rule governance.ToolRule, snap homeostasis.Snapshot) string {
	if e.approver == nil {
		return ReasonApprovalMissing
	}

	approvalCtx, cancel := context.WithTimeout(ctx, e.approvalTimeout)
	defer cancel()

	ok, err := e.approver.Decide(approvalCtx, ApprovalRequest{
		Tool:     def.Name,
		RiskTier: rule.RiskTier,
		Mode:     snap.Mode.String(),
		Args:     nil, // argument values are withheld from approval prompts
	})
	if err != nil {
		if approvalCtx.Err() != nil {
			return ReasonApprovalTimeout
		}
		return ReasonApprovalDenied
	}
	if !ok {
		return ReasonApprovalDenied
	}
	return ""
}

// validateArgs applies schema and governance argument rules.
func (e *Executor) validateArgs(def *Definition, rule governance.ToolRule, args map[string]any) error {
	for _, required := range def.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}

	if rule.Args.MaxArgBytes > 0 {
		encoded, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("arguments are not serializable: %w", err)
		}
		if len(encoded) > rule.Args.MaxArgBytes {
			return fmt.Errorf("arguments exceed size ceiling (%d > %d bytes)", len(encoded), rule.Args.MaxArgBytes)
		}
	}

	if len(rule.Args.PathAllow) == 0 && len(rule.Args.PathDeny) == 0 {
		return nil
	}

	pathParams := def.PathParams
	if len(pathParams) == 0 {
		pathParams = defaultPathParams
	}
	for _, param := range pathParams {
		raw, ok := args[param]
		if !ok {
			continue
		}
		p, ok := raw.(string)
		if !ok {
			continue
		}
		for _, pattern := range rule.Args.PathDeny {
			if governance.MatchPath(pattern, p) {
				return fmt.Errorf("path %q is denied by policy", p)
			}
		}
		if len(rule.Args.PathAllow) > 0 {
			allowed := false
			for _, pattern := range rule.Args.PathAllow {
				if governance.MatchPath(pattern, p) {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("path %q is outside the allowed paths", p)
			}
		}
	}
	return nil
}

// semWeight translates the published concurrency ceiling into a semaphore
// acquisition weight: a limit of N means each execution claims capacity/N.
func semWeight(limit int64) int64 {
	if limit <= 0 || limit >= semCapacity {
		return 1
	}
	return semCapacity / limit
}
