package homeostasis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vagus/internal/logging"
	"vagus/internal/sensor"
)

// TransitionSink receives every mode transition before it is published.
// The audit store implements this; a nil sink disables persistence.
type TransitionSink interface {
	RecordTransition(ctx context.Context, t Transition) error
}

// Config tunes the controller loop.
type Config struct {
	// PollInterval is the cadence of the sense→decide→act cycle.
	PollInterval time.Duration `yaml:"poll_interval"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Thresholds:   DefaultThresholds(),
	}
}

// Controller owns the operating mode. It is the sole writer of the published
// state; everything else reads an eventually-consistent snapshot.
type Controller struct {
	cfg    Config
	source sensor.Source
	bus    *sensor.Bus
	state  *State
	sink   TransitionSink
	log    *zap.Logger

	rules ruleState
	seq   uint64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithTransitionSink attaches an audit sink for transition records.
func WithTransitionSink(sink TransitionSink) Option {
	return func(c *Controller) { c.sink = sink }
}

// New creates a controller starting in Normal mode.
func New(cfg Config, source sensor.Source, bus *sensor.Bus, opts ...Option) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	c := &Controller{
		cfg:    cfg,
		source: source,
		bus:    bus,
		state:  NewState(),
		log:    logging.For("homeostasis"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the published state for readers.
func (c *Controller) State() *State { return c.state }

// Current returns the latest published snapshot.
func (c *Controller) Current() Snapshot { return c.state.Current() }

// Run executes the sense→decide→act→sleep loop until ctx is cancelled.
// A bad cycle never stops the loop; its panic or error is logged and the
// next cycle proceeds.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.log.Info("homeostasis controller started",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.String("mode", c.Current().Mode.String()),
	)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("homeostasis controller stopped")
			return ctx.Err()
		case <-ticker.C:
			c.safeCycle(ctx)
		}
	}
}

// safeCycle runs one cycle, containing any panic.
func (c *Controller) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cycle panicked", zap.Any("panic", r))
		}
	}()
	c.cycle(ctx)
}

// cycle is one sense→decide→act pass.
func (c *Controller) cycle(ctx context.Context) {
	snap, err := c.source.Sample(ctx)
	if err != nil {
		// Missing a sample is not itself an anomaly: no new evidence,
		// no transition, events stay queued for the next cycle.
		c.log.Warn("sensor read failed, skipping cycle", zap.Error(err))
		return
	}

	if c.bus != nil {
		for _, e := range c.bus.Drain() {
			switch e.Kind {
			case sensor.EventToolBlocked:
				snap.BlockedCalls++
			case sensor.EventPolicyViolation:
				snap.PolicyViolations++
			case sensor.EventHighRiskAttempt:
				snap.BlockedCalls++
			}
		}
	}

	sev, metrics := c.cfg.Thresholds.grade(snap)
	c.rules.observe(sev)

	current := c.state.Current()
	next, rationale := c.cfg.Thresholds.decide(current.Mode, &c.rules)
	if next == current.Mode {
		return
	}
	c.transition(ctx, current, next, metrics, rationale)
}

// transition records, logs, and then publishes a mode change, in that order,
// so readers never observe an unexplained jump.
func (c *Controller) transition(ctx context.Context, current Snapshot, next Mode, metrics map[string]float64, rationale string) {
	if !CanTransition(current.Mode, next) {
		c.log.Error("illegal transition suppressed",
			zap.String("from", current.Mode.String()),
			zap.String("to", next.String()),
		)
		return
	}

	record := Transition{
		Time:      time.Now(),
		From:      current.Mode,
		To:        next,
		Metrics:   metrics,
		Rationale: rationale,
	}

	if c.sink != nil {
		if err := c.sink.RecordTransition(ctx, record); err != nil {
			c.log.Warn("failed to persist transition record", zap.Error(err))
		}
	}

	c.log.Info("mode transition",
		zap.String("from", record.From.String()),
		zap.String("to", record.To.String()),
		zap.String("rationale", record.Rationale),
	)

	constraints := ConstraintsFor(next)
	for _, reflex := range defaultReflexes[next] {
		reflex.Apply(&constraints)
		c.log.Info("reflex applied", zap.String("reflex", reflex.Name), zap.String("mode", next.String()))
	}

	c.seq++
	c.state.publish(Snapshot{
		Mode:        next,
		Constraints: constraints,
		Since:       record.Time,
		Seq:         c.seq,
	})

	// A mode change resets sustain counters so the new mode is judged on
	// fresh evidence.
	c.rules = ruleState{}
}
