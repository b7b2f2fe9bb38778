package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"vagus/internal/homeostasis"
	"vagus/internal/modelclient"
	"vagus/internal/sensor"
)

// Channel selects the entry surface for a request, which determines the
// initial model role.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelCode   Channel = "code"
	ChannelHealth Channel = "health"
)

// defaultRole maps a channel to its starting model role.
func defaultRole(c Channel) modelclient.Role {
	switch c {
	case ChannelCode:
		return modelclient.RoleCoding
	case ChannelHealth:
		return modelclient.RoleReasoning
	default:
		return modelclient.RoleRouter
	}
}

// Request is one user turn entering the orchestrator.
type Request struct {
	SessionID string
	Input     string
	Channel   Channel
}

// Result is the complete outcome of one request. Exactly one Result is
// returned per request, well-formed on every path.
type Result struct {
	TraceID    string          `json:"trace_id"`
	SessionID  string          `json:"session_id"`
	Reply      string          `json:"reply"`
	State      TaskState       `json:"state"`
	Steps      []Step          `json:"steps"`
	Error      string          `json:"error,omitempty"`
	Monitoring *sensor.Summary `json:"monitoring,omitempty"`
}

// executionContext is the mutable per-request state. Owned exclusively by
// one Handle call; it never outlives its request.
type executionContext struct {
	traceID   string
	sessionID string
	input     string
	channel   Channel

	state        TaskState
	mode         homeostasis.Snapshot
	role         modelclient.Role
	history      []modelclient.Message
	steps        []Step
	toolIters    int
	delegated    int
	pendingCalls []modelclient.ToolCall
	lastText     string // last usable model output
	errMsg       string
	monitoring   *sensor.Summary
}

func newExecutionContext(req Request) *executionContext {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	channel := req.Channel
	if channel == "" {
		channel = ChannelChat
	}
	return &executionContext{
		traceID:   uuid.NewString(),
		sessionID: sessionID,
		input:     req.Input,
		channel:   channel,
		state:     StateInit,
	}
}

// record appends a step to the ordered trace.
func (ec *executionContext) record(s Step) {
	ec.steps = append(ec.steps, s)
}

// transition advances the state machine.
func (ec *executionContext) transition(o stepOutcome) {
	ec.state = nextState(ec.state, o)
}

// fail marks the context failed with a populated error.
func (ec *executionContext) fail(format string, args ...any) {
	ec.errMsg = fmt.Sprintf(format, args...)
	ec.state = StateFailed
}

// result assembles the final, always well-formed Result.
func (ec *executionContext) result() *Result {
	return &Result{
		TraceID:    ec.traceID,
		SessionID:  ec.sessionID,
		Reply:      ec.lastText,
		State:      ec.state,
		Steps:      ec.steps,
		Error:      ec.errMsg,
		Monitoring: ec.monitoring,
	}
}
