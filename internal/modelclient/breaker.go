package modelclient

import (
	"sync"
	"time"
)

// breaker is a per-role circuit breaker. It opens after a run of consecutive
// transport failures and half-opens after a cooldown, letting one probe call
// through. Invalid responses do not trip it; the backend is reachable.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	openedAt time.Time
	open     bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		// Half-open: permit one probe. Failure re-opens, success closes.
		return true
	}
	return false
}

// record updates breaker state with the outcome of a call.
func (b *breaker) record(transportFailure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !transportFailure {
		b.failures = 0
		b.open = false
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}
