package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vagus/internal/homeostasis"
	"vagus/internal/logging"
	"vagus/internal/modelclient"
	"vagus/internal/sensor"
	"vagus/internal/tool"
)

const routerSystemPrompt = `You are the routing layer of a local agent. Reply with one JSON object:
{"decision":"handle","response":"<direct answer>"} for simple turns you can answer yourself, or
{"decision":"delegate","target":"reasoning"|"coding","confidence":0.0-1.0,"rationale":"<why>"} for turns needing a specialist.`

const defaultSystemPrompt = "You are vagus, a careful local assistant. Ground answers in provided context. Use tools only when needed."

// Config tunes the orchestrator.
type Config struct {
	// MaxDelegations bounds router re-delegation per turn. Default 1.
	MaxDelegations int

	// MonitorInterval is the per-request sensor sampling cadence.
	MonitorInterval time.Duration

	// SystemPrompt overrides the default non-router system prompt.
	SystemPrompt string
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxDelegations:  1,
		MonitorInterval: time.Second,
	}
}

// Engine drives requests. One Engine serves all requests; per-request state
// lives in executionContext, so concurrent requests share nothing mutable
// except the read-only published mode.
type Engine struct {
	models   modelclient.Client
	tools    *tool.Executor
	registry *tool.Registry
	modes    homeostasis.Reader
	source   sensor.Source
	cfg      Config
	log      *zap.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithSensorSource enables per-request background monitoring.
func WithSensorSource(s sensor.Source) EngineOption {
	return func(e *Engine) { e.source = s }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		if cfg.MaxDelegations <= 0 {
			cfg.MaxDelegations = 1
		}
		if cfg.MonitorInterval <= 0 {
			cfg.MonitorInterval = time.Second
		}
		e.cfg = cfg
	}
}

// New creates an Engine over its collaborators.
func New(models modelclient.Client, tools *tool.Executor, registry *tool.Registry, modes homeostasis.Reader, opts ...EngineOption) *Engine {
	e := &Engine{
		models:   models,
		tools:    tools,
		registry: registry,
		modes:    modes,
		cfg:      DefaultConfig(),
		log:      logging.For("orchestrator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle drives one request to completion. It always returns exactly one
// well-formed Result and never panics out; unexpected internal errors
// resolve into a Failed result with a populated error.
func (e *Engine) Handle(ctx context.Context, req Request) (res *Result) {
	ec := newExecutionContext(req)
	mon := startMonitor(ctx, e.source, e.cfg.MonitorInterval)

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("request panicked", zap.String("trace_id", ec.traceID), zap.Any("panic", r))
			ec.record(warningStep(fmt.Sprintf("internal error: %v", r)))
			ec.fail("internal error: %v", r)
			if ec.lastText == "" {
				ec.lastText = "Something went wrong while handling this request, and no partial answer is available."
			}
		}
		ec.monitoring = mon.stop()
		res = ec.result()
	}()

	e.run(ctx, ec)

	e.log.Info("request handled",
		zap.String("trace_id", ec.traceID),
		zap.String("state", ec.state.String()),
		zap.Int("steps", len(ec.steps)),
		zap.Int("tool_iterations", ec.toolIters),
	)
	return // res is assembled in the deferred cleanup above
}

// run executes the task state machine.
func (e *Engine) run(ctx context.Context, ec *executionContext) {
	// Init → Planning: read the published mode once, non-blocking.
	ec.mode = e.modes.Current()
	ec.transition(outcomeAdvance)

	e.plan(ec)
	ec.transition(outcomeAdvance) // Planning → ModelCall

	for !ec.state.Terminal() {
		switch ec.state {
		case StateModelCall:
			e.stepModelCall(ctx, ec)
		case StateToolExecution:
			e.stepToolExecution(ctx, ec)
		case StateSynthesis:
			e.stepSynthesis(ec)
		default:
			// A state outside the loop set means a transition bug; fail
			// closed rather than spin.
			ec.fail("state machine reached unexpected state %s", ec.state)
		}
	}
}

// plan selects the initial role under the current constraints and seeds the
// conversation history.
func (e *Engine) plan(ec *executionContext) {
	role := defaultRole(ec.channel)
	if !ec.mode.Constraints.RoleAllowed(role) {
		fallback := e.fallbackRole(ec.mode.Constraints)
		ec.record(warningStep(fmt.Sprintf("role %s not permitted in mode %s, using %s", role, ec.mode.Mode, fallback)))
		role = fallback
	}
	ec.role = role

	system := e.cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	if role == modelclient.RoleRouter {
		system = routerSystemPrompt
	}
	ec.history = []modelclient.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: ec.input},
	}

	ec.record(planStep(fmt.Sprintf("mode=%s role=%s max_tool_iterations=%d",
		ec.mode.Mode, role, ec.mode.Constraints.MaxToolIterations)))
}

// fallbackRole picks the safest permitted role, preferring reasoning.
func (e *Engine) fallbackRole(c homeostasis.Constraints) modelclient.Role {
	for _, r := range []modelclient.Role{modelclient.RoleReasoning, modelclient.RoleRouter, modelclient.RoleCoding} {
		if c.RoleAllowed(r) {
			return r
		}
	}
	return modelclient.RoleRouter
}

// toolsPermitted reports whether tool execution is open in this request.
func (e *Engine) toolsPermitted(ec *executionContext) bool {
	return e.tools != nil && e.registry != nil &&
		!ec.mode.Constraints.ToolsFrozen &&
		ec.mode.Constraints.MaxToolIterations > 0
}

func (e *Engine) stepModelCall(ctx context.Context, ec *executionContext) {
	opts := modelclient.Options{}
	if e.toolsPermitted(ec) && ec.role != modelclient.RoleRouter {
		opts.Tools = e.registry.Schemas()
	}

	resp, err := e.models.Respond(ctx, ec.role, ec.history, opts)
	if err != nil {
		kind := modelclient.KindOf(err)
		ec.record(warningStep(fmt.Sprintf("model call failed (role=%s, kind=%s)", ec.role, kind)))
		if ec.lastText != "" || ec.toolIters > 0 {
			// Partial context exists: degrade instead of discarding the turn.
			ec.transition(outcomeDegrade)
			return
		}
		ec.lastText = degradedReply(kind)
		ec.fail("model call failed: %v", err)
		return
	}

	ec.record(modelStep(ec.role, fmt.Sprintf("%d chars, %d tool calls", len(resp.Text), len(resp.ToolCalls)), resp.Latency))
	ec.history = append(ec.history, modelclient.Message{Role: "assistant", Content: resp.Text})

	if ec.role == modelclient.RoleRouter {
		e.applyRouting(ec, resp)
		return
	}

	if resp.Text != "" {
		ec.lastText = resp.Text
	}
	if len(resp.ToolCalls) > 0 {
		if !e.toolsPermitted(ec) {
			ec.record(warningStep(fmt.Sprintf("model requested %d tool calls but tool execution is closed in mode %s", len(resp.ToolCalls), ec.mode.Mode)))
			ec.transition(outcomeAdvance)
			return
		}
		ec.pendingCalls = resp.ToolCalls
		ec.transition(outcomeToolCalls)
		return
	}
	ec.transition(outcomeAdvance)
}

// applyRouting parses the router verdict and either keeps the turn or
// re-enters ModelCall under the delegated role. A malformed decision never
// aborts the request: it falls back to the reasoning role.
func (e *Engine) applyRouting(ec *executionContext, resp *modelclient.Response) {
	rd, err := parseRoutingDecision(resp.Text)
	if err != nil {
		ec.record(warningStep(fmt.Sprintf("routing decision parse failed: %v; falling back to reasoning", err)))
		e.redirect(ec, modelclient.RoleReasoning)
		return
	}

	if rd.Decision == DecisionDelegate {
		if ec.delegated >= e.cfg.MaxDelegations {
			ec.record(warningStep("delegation limit reached, handling with reasoning role"))
			e.redirect(ec, modelclient.RoleReasoning)
			return
		}
		target := rd.Target
		if !ec.mode.Constraints.RoleAllowed(target) {
			ec.record(warningStep(fmt.Sprintf("delegation target %s not permitted in mode %s, using reasoning", target, ec.mode.Mode)))
			target = modelclient.RoleReasoning
		}
		ec.delegated++
		ec.record(planStep(fmt.Sprintf("router delegated to %s (confidence=%.2f): %s", target, rd.Confidence, rd.Rationale)))
		e.redirect(ec, target)
		return
	}

	// Router handled the turn directly.
	if rd.Response != "" {
		ec.lastText = rd.Response
	} else if resp.Text != "" {
		ec.lastText = resp.Text
	}
	ec.transition(outcomeAdvance)
}

// redirect re-enters ModelCall under a new role, rebuilding the system
// prompt for non-router duty.
func (e *Engine) redirect(ec *executionContext, role modelclient.Role) {
	if !ec.mode.Constraints.RoleAllowed(role) {
		// Nowhere to go: treat the router text as the final answer.
		ec.record(warningStep(fmt.Sprintf("no permitted fallback role in mode %s", ec.mode.Mode)))
		ec.transition(outcomeAdvance)
		return
	}
	ec.role = role
	system := e.cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	ec.history[0] = modelclient.Message{Role: "system", Content: system}
	// The routing verdict is router-internal wire format; the delegated
	// role should see the conversation, not the verdict.
	if n := len(ec.history); n > 0 && ec.history[n-1].Role == "assistant" {
		ec.history = ec.history[:n-1]
	}
	ec.transition(outcomeDelegate)
}

func (e *Engine) stepToolExecution(ctx context.Context, ec *executionContext) {
	calls := ec.pendingCalls
	ec.pendingCalls = nil

	for _, call := range calls {
		args := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				ec.record(toolStep(call.Name, "", fmt.Sprintf("unparseable arguments: %v", err), 0))
				ec.history = append(ec.history, modelclient.Message{
					Role:    "tool",
					Content: fmt.Sprintf("tool %s failed: unparseable arguments", call.Name),
				})
				continue
			}
		}

		result := e.tools.Execute(ctx, call.Name, args)
		ec.record(toolStep(result.Tool, summarizeOutput(result.Output), result.Error, result.Latency))

		content := result.Output
		if !result.Success {
			content = fmt.Sprintf("tool %s failed: %s", result.Tool, result.Error)
		}
		ec.history = append(ec.history, modelclient.Message{Role: "tool", Content: content})
	}

	ec.toolIters++
	if ec.toolIters >= ec.mode.Constraints.MaxToolIterations {
		// Hard ceiling, not a retry budget: force synthesis with whatever
		// context accumulated.
		ec.record(warningStep(fmt.Sprintf("tool iteration ceiling (%d) reached, forcing synthesis", ec.mode.Constraints.MaxToolIterations)))
		ec.transition(outcomeCeiling)
		return
	}

	// Feed results back through the reasoning role for synthesis.
	if ec.mode.Constraints.RoleAllowed(modelclient.RoleReasoning) {
		ec.role = modelclient.RoleReasoning
	}
	ec.transition(outcomeAdvance)
}

func (e *Engine) stepSynthesis(ec *executionContext) {
	if ec.lastText == "" {
		ec.lastText = "I could not produce a complete answer for this request; see the step trace for what was attempted."
	}
	ec.transition(outcomeAdvance)
}

// degradedReply composes the user-visible text for a turn that failed before
// any usable model output existed.
func degradedReply(kind modelclient.ErrorKind) string {
	switch kind {
	case modelclient.KindTimeout:
		return "I could not complete this request: the model backend timed out repeatedly."
	case modelclient.KindRateLimit:
		return "I could not complete this request: the model backend is rate limiting calls."
	case modelclient.KindConnection:
		return "I could not complete this request: the model backend is unreachable."
	default:
		return "I could not complete this request: the model backend returned an unusable response."
	}
}

func summarizeOutput(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
