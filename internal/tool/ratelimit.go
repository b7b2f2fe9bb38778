package tool

import (
	"sync"
	"time"

	"vagus/internal/governance"
)

// rateLimiter enforces per-tool rolling-window budgets. Each tool keeps the
// timestamps of its recent invocations; stamps older than the window are
// pruned on every check.
type rateLimiter struct {
	mu    sync.Mutex
	calls map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{calls: make(map[string][]time.Time)}
}

// allow consumes one slot for the tool if the budget permits.
func (l *rateLimiter) allow(tool string, rule governance.RateRule, now time.Time) bool {
	if !rule.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-rule.Window)
	recent := l.calls[tool][:0]
	for _, t := range l.calls[tool] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rule.MaxCalls {
		l.calls[tool] = recent
		return false
	}
	l.calls[tool] = append(recent, now)
	return true
}
