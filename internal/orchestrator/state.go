// Package orchestrator drives one request from input to reply through a
// bounded task state machine, consulting the published operating mode,
// calling models through the model client, and invoking tools through the
// governed execution layer. It never panics out: every path, including
// internal errors, resolves into a well-formed result.
package orchestrator

import "fmt"

// TaskState is the per-request state machine position.
type TaskState int

const (
	StateInit TaskState = iota
	StatePlanning
	StateModelCall
	StateToolExecution
	StateSynthesis
	StateCompleted
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePlanning:
		return "planning"
	case StateModelCall:
		return "model_call"
	case StateToolExecution:
		return "tool_execution"
	case StateSynthesis:
		return "synthesis"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state machine has finished.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// stepOutcome is the result category of one state-machine step. Transitions
// are pure functions of (state, outcome); they never branch on external time.
type stepOutcome int

const (
	outcomeAdvance stepOutcome = iota
	outcomeDelegate
	outcomeToolCalls
	outcomeCeiling
	outcomeDegrade
	outcomeError
)

// nextState is the transition function. The only backward edges are
// ModelCall→ModelCall (one bounded delegation re-entry) and
// ToolExecution→ModelCall (bounded by the iteration ceiling).
func nextState(s TaskState, o stepOutcome) TaskState {
	if o == outcomeError {
		return StateFailed
	}
	switch s {
	case StateInit:
		return StatePlanning
	case StatePlanning:
		return StateModelCall
	case StateModelCall:
		switch o {
		case outcomeDelegate:
			return StateModelCall
		case outcomeToolCalls:
			return StateToolExecution
		default:
			return StateSynthesis
		}
	case StateToolExecution:
		switch o {
		case outcomeCeiling, outcomeDegrade:
			return StateSynthesis
		default:
			return StateModelCall
		}
	case StateSynthesis:
		return StateCompleted
	default:
		return s
	}
}
