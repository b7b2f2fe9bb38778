package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vagus/internal/homeostasis"
	"vagus/internal/orchestrator"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTransitionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := homeostasis.Transition{
		Time:      time.Now().UTC().Truncate(time.Millisecond),
		From:      homeostasis.ModeNormal,
		To:        homeostasis.ModeAlert,
		Metrics:   map[string]float64{"cpu_percent": 91.5, "blocked_calls": 2},
		Rationale: "elevated load sustained for 3 cycles",
	}
	require.NoError(t, store.RecordTransition(ctx, rec))

	got, err := store.Transitions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.Equal(t, rec.From, got[0].From)
	require.Equal(t, rec.To, got[0].To)
	require.Equal(t, rec.Rationale, got[0].Rationale)
	require.Equal(t, 91.5, got[0].Metrics["cpu_percent"])
	require.True(t, rec.Time.Equal(got[0].Time))
}

func TestTransitionsOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seq := []struct{ from, to homeostasis.Mode }{
		{homeostasis.ModeNormal, homeostasis.ModeAlert},
		{homeostasis.ModeAlert, homeostasis.ModeDegraded},
		{homeostasis.ModeDegraded, homeostasis.ModeLockdown},
		{homeostasis.ModeLockdown, homeostasis.ModeRecovery},
	}
	for i, s := range seq {
		require.NoError(t, store.RecordTransition(ctx, homeostasis.Transition{
			Time: time.Now().Add(time.Duration(i) * time.Second),
			From: s.from,
			To:   s.to,
		}))
	}

	// The most recent N, returned oldest first.
	got, err := store.Transitions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, homeostasis.ModeLockdown, got[0].To)
	require.Equal(t, homeostasis.ModeRecovery, got[1].To)
}

func TestRecordTrace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := &orchestrator.Result{
		TraceID:   "trace-1",
		SessionID: "session-1",
		Reply:     "done",
		State:     orchestrator.StateCompleted,
		Steps: []orchestrator.Step{
			{Type: orchestrator.StepPlan, Time: time.Now(), Detail: "mode=normal role=router"},
			{Type: orchestrator.StepModelCall, Time: time.Now(), Role: "router", Detail: "25 chars, 0 tool calls"},
		},
	}
	require.NoError(t, store.RecordTrace(ctx, res))

	var count int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM request_traces WHERE trace_id = ?`, "trace-1").Scan(&count))
	require.Equal(t, 1, count)
}

func TestNoopStore(t *testing.T) {
	var s Store = NoopStore{}
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, homeostasis.Transition{}))
	require.NoError(t, s.RecordTrace(ctx, &orchestrator.Result{}))
	got, err := s.Transitions(ctx, 5)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, s.Close())
}
