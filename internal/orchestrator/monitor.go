package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vagus/internal/logging"
	"vagus/internal/sensor"
)

// monitor samples sensors for the duration of one request on its own
// lightweight goroutine. It is started when the request begins and stopped
// in a guaranteed-cleanup path; failing to start or stop is logged and never
// fails the request.
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
	window *sensor.Window
}

// startMonitor begins periodic sampling. Returns nil when no source is
// configured (reduced observability, not an error).
func startMonitor(parent context.Context, source sensor.Source, interval time.Duration) *monitor {
	if source == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	m := &monitor{
		cancel: cancel,
		done:   make(chan struct{}),
		window: sensor.NewWindow(256),
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := source.Sample(ctx)
				if err != nil {
					logging.For("orchestrator").Debug("request monitor sample failed", zap.Error(err))
					continue
				}
				m.window.Add(snap)
			}
		}
	}()
	return m
}

// stop halts sampling and returns the aggregated summary, or nil when
// nothing was collected.
func (m *monitor) stop() *sensor.Summary {
	if m == nil {
		return nil
	}
	m.cancel()
	<-m.done
	if m.window.Len() == 0 {
		return nil
	}
	summary := m.window.Summarize()
	return &summary
}
