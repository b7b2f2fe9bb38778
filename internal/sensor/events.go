package sensor

import (
	"sync/atomic"
	"time"
)

// EventKind identifies a discrete behavioral signal.
type EventKind string

const (
	// EventToolBlocked is raised when the tool layer denies an invocation.
	EventToolBlocked EventKind = "tool_blocked"

	// EventPolicyViolation is raised when arguments fail governance rules.
	EventPolicyViolation EventKind = "policy_violation"

	// EventHighRiskAttempt is raised when a high-risk tool is requested.
	EventHighRiskAttempt EventKind = "high_risk_attempt"
)

// Event is one occurrence delivered to the homeostasis controller.
type Event struct {
	Kind   EventKind `json:"kind"`
	Tool   string    `json:"tool,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus is a bounded, non-blocking event channel. Producers (the tool layer)
// publish without ever blocking a request; the controller drains pending
// events once per cycle. Overflow is counted, not queued.
type Bus struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewBus creates a bus buffering up to capacity pending events.
func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = 64
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish records an event. Never blocks; drops when the buffer is full.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Drain returns all currently pending events without blocking.
func (b *Bus) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Dropped returns the number of events lost to buffer overflow.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
