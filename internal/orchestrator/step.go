package orchestrator

import (
	"time"

	"vagus/internal/modelclient"
)

// StepType categorizes one entry in a request's step trace.
type StepType string

const (
	StepPlan      StepType = "plan"
	StepModelCall StepType = "model_call"
	StepToolCall  StepType = "tool_call"
	StepWarning   StepType = "warning"
)

// Step is one ordered record in a request trace. Within a request, steps are
// strictly ordered; tool-call steps always follow the model call that
// requested them.
type Step struct {
	Type    StepType  `json:"type"`
	Time    time.Time `json:"time"`
	Detail  string    `json:"detail"`
	Role    string    `json:"role,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	Error   string    `json:"error,omitempty"`
	Latency int64     `json:"latency_ms,omitempty"`
}

func planStep(detail string) Step {
	return Step{Type: StepPlan, Time: time.Now(), Detail: detail}
}

func modelStep(role modelclient.Role, detail string, latency time.Duration) Step {
	return Step{
		Type:    StepModelCall,
		Time:    time.Now(),
		Role:    string(role),
		Detail:  detail,
		Latency: latency.Milliseconds(),
	}
}

func toolStep(tool, detail, errMsg string, latency time.Duration) Step {
	return Step{
		Type:    StepToolCall,
		Time:    time.Now(),
		Tool:    tool,
		Detail:  detail,
		Error:   errMsg,
		Latency: latency.Milliseconds(),
	}
}

func warningStep(detail string) Step {
	return Step{Type: StepWarning, Time: time.Now(), Detail: detail}
}
