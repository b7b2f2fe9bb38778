package homeostasis

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vagus/internal/sensor"
)

// fakeSource replays scripted snapshots; once exhausted it repeats the last.
type fakeSource struct {
	snaps []sensor.Snapshot
	errs  []error
	i     int
}

func (f *fakeSource) Sample(ctx context.Context) (sensor.Snapshot, error) {
	idx := f.i
	if idx >= len(f.snaps) {
		idx = len(f.snaps) - 1
	}
	f.i++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return sensor.Snapshot{}, f.errs[idx]
	}
	return f.snaps[idx], nil
}

type recordingSink struct {
	transitions []Transition
}

func (r *recordingSink) RecordTransition(ctx context.Context, t Transition) error {
	r.transitions = append(r.transitions, t)
	return nil
}

func calmSnap() sensor.Snapshot {
	return sensor.Snapshot{Timestamp: time.Now(), CPUPercent: 20, MemoryPercent: 40, DiskPercent: 30}
}

func hotSnap() sensor.Snapshot {
	return sensor.Snapshot{Timestamp: time.Now(), CPUPercent: 92, MemoryPercent: 50, DiskPercent: 30}
}

func testController(source sensor.Source, bus *sensor.Bus, sink TransitionSink) *Controller {
	cfg := Config{
		PollInterval: 10 * time.Millisecond,
		Thresholds:   DefaultThresholds(),
	}
	return New(cfg, source, bus, WithTransitionSink(sink))
}

func TestSustainedCPUEscalatesToAlert(t *testing.T) {
	source := &fakeSource{snaps: []sensor.Snapshot{hotSnap()}}
	sink := &recordingSink{}
	c := testController(source, nil, sink)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		c.cycle(ctx)
		if got := c.Current().Mode; got != ModeNormal {
			t.Fatalf("mode after %d hot cycles = %s, want normal", i+1, got)
		}
	}

	c.cycle(ctx)
	if got := c.Current().Mode; got != ModeAlert {
		t.Fatalf("mode after 3 hot cycles = %s, want alert", got)
	}

	if len(sink.transitions) != 1 {
		t.Fatalf("recorded %d transitions, want 1", len(sink.transitions))
	}
	rec := sink.transitions[0]
	if rec.From != ModeNormal || rec.To != ModeAlert {
		t.Errorf("transition %s -> %s", rec.From, rec.To)
	}
	if rec.Metrics["cpu_percent"] != 92 {
		t.Errorf("transition metrics cpu = %v, want 92", rec.Metrics["cpu_percent"])
	}
	if rec.Rationale == "" {
		t.Error("transition should carry a rationale")
	}
}

func TestSensorFailureSkipsCycle(t *testing.T) {
	boom := errors.New("sensor offline")
	source := &fakeSource{
		snaps: []sensor.Snapshot{hotSnap(), hotSnap(), hotSnap(), hotSnap()},
		errs:  []error{nil, boom, nil, nil},
	}
	c := testController(source, nil, nil)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		c.cycle(ctx)
	}

	// The failed cycle contributed no evidence, so only 3 hot samples counted.
	if got := c.Current().Mode; got != ModeAlert {
		t.Fatalf("mode = %s, want alert after 3 counted cycles", got)
	}
	if c.Current().Seq != 1 {
		t.Errorf("seq = %d, want 1", c.Current().Seq)
	}
}

func TestEventsFeedBehavioralCounters(t *testing.T) {
	source := &fakeSource{snaps: []sensor.Snapshot{calmSnap()}}
	bus := sensor.NewBus(16)
	c := testController(source, bus, nil)

	ctx := context.Background()
	for cycle := 0; cycle < 3; cycle++ {
		for i := 0; i < 3; i++ {
			bus.Publish(sensor.Event{Kind: sensor.EventToolBlocked, Tool: "write_file"})
		}
		c.cycle(ctx)
	}

	if got := c.Current().Mode; got != ModeAlert {
		t.Fatalf("mode = %s, want alert from sustained blocked calls", got)
	}
}

func TestViolationBurstReachesLockdownThroughAlert(t *testing.T) {
	source := &fakeSource{snaps: []sensor.Snapshot{calmSnap()}}
	bus := sensor.NewBus(16)
	c := testController(source, bus, nil)

	ctx := context.Background()
	publish := func() {
		for i := 0; i < 3; i++ {
			bus.Publish(sensor.Event{Kind: sensor.EventPolicyViolation, Tool: "write_file"})
		}
	}

	publish()
	c.cycle(ctx)
	if got := c.Current().Mode; got != ModeAlert {
		t.Fatalf("first breach cycle mode = %s, want alert", got)
	}

	publish()
	c.cycle(ctx)
	if got := c.Current().Mode; got != ModeLockdown {
		t.Fatalf("second breach cycle mode = %s, want lockdown", got)
	}

	snap := c.Current()
	if !snap.Constraints.ToolsFrozen {
		t.Error("lockdown should publish frozen tools")
	}
	if snap.Constraints.MaxToolIterations != 0 {
		t.Errorf("lockdown tool iterations = %d", snap.Constraints.MaxToolIterations)
	}
}

func TestModeChangeResetsCounters(t *testing.T) {
	source := &fakeSource{snaps: []sensor.Snapshot{hotSnap()}}
	c := testController(source, nil, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.cycle(ctx)
	}
	if got := c.Current().Mode; got != ModeAlert {
		t.Fatalf("mode = %s, want alert", got)
	}

	// Alert -> Degraded requires critical pressure sustained again from zero;
	// elevated samples alone must not move the mode further.
	for i := 0; i < 10; i++ {
		c.cycle(ctx)
	}
	if got := c.Current().Mode; got != ModeAlert {
		t.Errorf("mode = %s, elevated load should hold at alert", got)
	}
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	source := &fakeSource{snaps: []sensor.Snapshot{calmSnap()}}
	c := testController(source, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
