// Package logging provides the shared zap logger for vagus.
// Each subsystem logs through a named child logger so log lines can be
// filtered per component (homeostasis, orchestrator, tools, modelclient).
package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// root holds the process-wide logger. It defaults to a nop logger so
// library code can log before Setup runs (and in tests).
var root atomic.Pointer[zap.Logger]

func init() {
	root.Store(zap.NewNop())
}

// Setup builds and installs the process logger. Call once from main.
// Returns the logger so main can defer Sync.
func Setup(level string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	root.Store(logger)
	return logger, nil
}

// SetLogger replaces the process logger. Used by tests to capture output.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	root.Store(l)
}

// For returns a named child logger for a subsystem.
func For(subsystem string) *zap.Logger {
	return root.Load().Named(subsystem)
}
