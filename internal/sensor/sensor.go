// Package sensor provides the measurement boundary for the homeostasis
// controller: point-in-time hardware readings, windowed aggregation, and an
// event bus for discrete behavioral signals raised elsewhere in the system.
package sensor

import (
	"context"
	"time"
)

// Snapshot is a point-in-time reading of system vitals.
// Hardware fields are filled by a Source; behavioral counters are filled by
// whoever drains the event bus for the same cycle.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`

	// GPUPercent is -1 when no GPU reading is available.
	GPUPercent float64 `json:"gpu_percent"`

	// Behavioral counters for the cycle that produced this snapshot.
	BlockedCalls     int `json:"blocked_calls"`
	PolicyViolations int `json:"policy_violations"`
}

// Source produces snapshots on demand. Implementations must be safe for
// concurrent use; the controller and per-request monitors share one Source.
type Source interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Stat aggregates one metric over a window.
type Stat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Summary aggregates a window of snapshots.
type Summary struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Samples int       `json:"samples"`

	CPU    Stat `json:"cpu"`
	Memory Stat `json:"memory"`
	Disk   Stat `json:"disk"`

	BlockedCalls     int `json:"blocked_calls"`
	PolicyViolations int `json:"policy_violations"`
}

// Window is a fixed-capacity ring of recent snapshots.
// Not safe for concurrent use; each owner keeps its own window.
type Window struct {
	capacity int
	snaps    []Snapshot
}

// NewWindow creates a window holding at most capacity snapshots.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{capacity: capacity}
}

// Add appends a snapshot, evicting the oldest when full.
func (w *Window) Add(s Snapshot) {
	w.snaps = append(w.snaps, s)
	if len(w.snaps) > w.capacity {
		w.snaps = w.snaps[len(w.snaps)-w.capacity:]
	}
}

// Len returns the number of stored snapshots.
func (w *Window) Len() int { return len(w.snaps) }

// Recent returns up to n most recent snapshots, newest last.
func (w *Window) Recent(n int) []Snapshot {
	if n >= len(w.snaps) {
		n = len(w.snaps)
	}
	out := make([]Snapshot, n)
	copy(out, w.snaps[len(w.snaps)-n:])
	return out
}

// Summarize aggregates the current window contents.
func (w *Window) Summarize() Summary {
	sum := Summary{Samples: len(w.snaps)}
	if len(w.snaps) == 0 {
		return sum
	}

	sum.Start = w.snaps[0].Timestamp
	sum.End = w.snaps[len(w.snaps)-1].Timestamp
	sum.CPU = statOf(w.snaps, func(s Snapshot) float64 { return s.CPUPercent })
	sum.Memory = statOf(w.snaps, func(s Snapshot) float64 { return s.MemoryPercent })
	sum.Disk = statOf(w.snaps, func(s Snapshot) float64 { return s.DiskPercent })
	for _, s := range w.snaps {
		sum.BlockedCalls += s.BlockedCalls
		sum.PolicyViolations += s.PolicyViolations
	}
	return sum
}

func statOf(snaps []Snapshot, metric func(Snapshot) float64) Stat {
	st := Stat{Min: metric(snaps[0]), Max: metric(snaps[0])}
	var total float64
	for _, s := range snaps {
		v := metric(s)
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		total += v
	}
	st.Avg = total / float64(len(snaps))
	return st
}
