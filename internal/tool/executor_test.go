package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"vagus/internal/governance"
	"vagus/internal/homeostasis"
	"vagus/internal/sensor"
)

// fakeModes publishes a fixed mode snapshot.
type fakeModes struct {
	snap homeostasis.Snapshot
}

func (f *fakeModes) Current() homeostasis.Snapshot { return f.snap }

func modesIn(m homeostasis.Mode) *fakeModes {
	return &fakeModes{snap: homeostasis.Snapshot{
		Mode:        m,
		Constraints: homeostasis.ConstraintsFor(m),
		Since:       time.Now(),
	}}
}

type approveFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

func (f approveFunc) Decide(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

func execDef(name string, rule governance.ToolRule) *Definition {
	return &Definition{
		Name:        name,
		Description: "test tool",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "done", nil
		},
		Schema: Schema{
			Required:   []string{"path"},
			Properties: map[string]Property{"path": {Type: "string"}},
		},
		Rule:       rule,
		PathParams: []string{"path"},
	}
}

func allModes() []homeostasis.Mode {
	return []homeostasis.Mode{
		homeostasis.ModeNormal,
		homeostasis.ModeAlert,
		homeostasis.ModeDegraded,
		homeostasis.ModeRecovery,
	}
}

func newTestExecutor(t *testing.T, def *Definition, modes homeostasis.Reader, opts ...ExecutorOption) *Executor {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	reg.Freeze()
	return NewExecutor(reg, nil, modes, opts...)
}

func TestExecuteSuccess(t *testing.T) {
	def := execDef("echo", governance.ToolRule{AllowedModes: allModes()})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "echo", map[string]any{"path": "a.txt"})
	if !res.Success || res.Denied {
		t.Fatalf("result = %+v", res)
	}
	if res.Output != "done" {
		t.Errorf("output = %q", res.Output)
	}
	if res.Metadata["mode"] != "normal" {
		t.Errorf("metadata mode = %q", res.Metadata["mode"])
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	def := execDef("echo", governance.ToolRule{AllowedModes: allModes()})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "ghost", nil)
	if res.Success {
		t.Error("unknown tool should not succeed")
	}
	if !strings.Contains(res.Error, "ghost") {
		t.Errorf("error should name the tool: %q", res.Error)
	}
}

func TestExecuteDeniedInLockdown(t *testing.T) {
	def := execDef("echo", governance.ToolRule{AllowedModes: allModes()})
	bus := sensor.NewBus(8)
	modes := modesIn(homeostasis.ModeLockdown)
	modes.snap.Constraints.ToolsFrozen = true
	e := newTestExecutor(t, def, modes, WithEventBus(bus))

	res := e.Execute(context.Background(), "echo", map[string]any{"path": "a.txt"})
	if !res.Denied {
		t.Fatal("lockdown should deny execution")
	}
	if res.Error != ReasonToolsFrozen {
		t.Errorf("reason = %q, want %q", res.Error, ReasonToolsFrozen)
	}

	events := bus.Drain()
	if len(events) != 1 || events[0].Kind != sensor.EventToolBlocked {
		t.Errorf("events = %+v, want one tool_blocked", events)
	}
}

func TestExecuteDeniedByMode(t *testing.T) {
	def := execDef("write_file", governance.ToolRule{
		AllowedModes: []homeostasis.Mode{homeostasis.ModeNormal},
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeDegraded))

	res := e.Execute(context.Background(), "write_file", map[string]any{"path": "a.txt"})
	if !res.Denied || res.Error != ReasonModeNotPermitted {
		t.Errorf("result = %+v, want mode denial", res)
	}
}

func TestApprovalMissingApprover(t *testing.T) {
	def := execDef("risky", governance.ToolRule{
		AllowedModes:     allModes(),
		RequiresApproval: true,
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "risky", map[string]any{"path": "a.txt"})
	if !res.Denied || res.Error != ReasonApprovalMissing {
		t.Errorf("result = %+v, want approval-missing denial", res)
	}
}

func TestApprovalGranted(t *testing.T) {
	def := execDef("risky", governance.ToolRule{
		AllowedModes:     allModes(),
		RequiresApproval: true,
	})
	var seen ApprovalRequest
	approver := approveFunc(func(ctx context.Context, req ApprovalRequest) (bool, error) {
		seen = req
		return true, nil
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal), WithApprover(approver))

	res := e.Execute(context.Background(), "risky", map[string]any{"path": "secret.txt"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if seen.Tool != "risky" {
		t.Errorf("approval request tool = %q", seen.Tool)
	}
	if seen.Args != nil {
		t.Error("argument values must not reach the approval prompt")
	}
}

func TestApprovalDenied(t *testing.T) {
	def := execDef("risky", governance.ToolRule{
		AllowedModes:     allModes(),
		RequiresApproval: true,
	})
	approver := approveFunc(func(ctx context.Context, req ApprovalRequest) (bool, error) {
		return false, nil
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal), WithApprover(approver))

	res := e.Execute(context.Background(), "risky", map[string]any{"path": "a.txt"})
	if !res.Denied || res.Error != ReasonApprovalDenied {
		t.Errorf("result = %+v, want approval denial", res)
	}
}

func TestApprovalTimeoutIsDenial(t *testing.T) {
	def := execDef("risky", governance.ToolRule{
		AllowedModes:     allModes(),
		RequiresApproval: true,
	})
	approver := approveFunc(func(ctx context.Context, req ApprovalRequest) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal),
		WithApprover(approver),
		WithApprovalTimeout(10*time.Millisecond),
	)

	res := e.Execute(context.Background(), "risky", map[string]any{"path": "a.txt"})
	if !res.Denied || res.Error != ReasonApprovalTimeout {
		t.Errorf("result = %+v, want approval timeout denial", res)
	}
}

func TestModeLevelApprovalRequirement(t *testing.T) {
	// Recovery mode requires approval even for tools that normally skip it.
	def := execDef("echo", governance.ToolRule{AllowedModes: allModes()})
	modes := modesIn(homeostasis.ModeRecovery)
	modes.snap.Constraints.RequireApproval = true
	e := newTestExecutor(t, def, modes)

	res := e.Execute(context.Background(), "echo", map[string]any{"path": "a.txt"})
	if !res.Denied || res.Error != ReasonApprovalMissing {
		t.Errorf("result = %+v, want approval denial in recovery", res)
	}
}

func TestRateLimit(t *testing.T) {
	def := execDef("noisy", governance.ToolRule{
		AllowedModes: allModes(),
		Rate:         governance.RateRule{MaxCalls: 2, Window: time.Minute},
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	args := map[string]any{"path": "a.txt"}
	for i := 0; i < 2; i++ {
		if res := e.Execute(context.Background(), "noisy", args); !res.Success {
			t.Fatalf("call %d failed: %+v", i+1, res)
		}
	}

	res := e.Execute(context.Background(), "noisy", args)
	if !res.Denied || res.Error != ReasonRateLimited {
		t.Errorf("third call = %+v, want rate denial", res)
	}
}

func TestPathDenyWinsOverAllow(t *testing.T) {
	def := execDef("write_file", governance.ToolRule{
		AllowedModes: allModes(),
		Args: governance.ArgRules{
			PathAllow: []string{"workspace/**"},
			PathDeny:  []string{"workspace/.secrets/**"},
		},
	})
	bus := sensor.NewBus(8)
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal), WithEventBus(bus))

	res := e.Execute(context.Background(), "write_file", map[string]any{"path": "workspace/.secrets/key"})
	if !res.Denied {
		t.Fatalf("result = %+v, want denial", res)
	}
	if !strings.Contains(res.Error, "denied by policy") {
		t.Errorf("error = %q", res.Error)
	}

	events := bus.Drain()
	if len(events) != 1 || events[0].Kind != sensor.EventPolicyViolation {
		t.Errorf("events = %+v, want one policy_violation", events)
	}
}

func TestPathOutsideAllowList(t *testing.T) {
	def := execDef("write_file", governance.ToolRule{
		AllowedModes: allModes(),
		Args:         governance.ArgRules{PathAllow: []string{"workspace/**"}},
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "write_file", map[string]any{"path": "/etc/passwd"})
	if !res.Denied {
		t.Errorf("result = %+v, want denial", res)
	}
}

func TestMissingRequiredArg(t *testing.T) {
	def := execDef("echo", governance.ToolRule{AllowedModes: allModes()})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "echo", map[string]any{})
	if !res.Denied {
		t.Fatalf("result = %+v, want denial", res)
	}
	if !strings.Contains(res.Error, "path") {
		t.Errorf("error should name the missing argument: %q", res.Error)
	}
}

func TestArgSizeCeiling(t *testing.T) {
	def := execDef("echo", governance.ToolRule{
		AllowedModes: allModes(),
		Args:         governance.ArgRules{MaxArgBytes: 32},
	})
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "echo", map[string]any{
		"path": strings.Repeat("x", 100),
	})
	if !res.Denied || !strings.Contains(res.Error, "size ceiling") {
		t.Errorf("result = %+v, want size denial", res)
	}
}

func TestPanicContained(t *testing.T) {
	def := execDef("bomb", governance.ToolRule{AllowedModes: allModes()})
	def.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		panic("kaboom")
	}
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "bomb", map[string]any{"path": "a.txt"})
	if res.Success {
		t.Fatal("panicking tool reported success")
	}
	if !strings.Contains(res.Error, "panicked") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecutionTimeout(t *testing.T) {
	def := execDef("slow", governance.ToolRule{
		AllowedModes: allModes(),
		Timeout:      10 * time.Millisecond,
	})
	def.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeNormal))

	res := e.Execute(context.Background(), "slow", map[string]any{"path": "a.txt"})
	if res.Success {
		t.Fatal("slow tool reported success")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDeniedToolNeverExecutes(t *testing.T) {
	executed := false
	def := execDef("echo", governance.ToolRule{
		AllowedModes: []homeostasis.Mode{homeostasis.ModeNormal},
	})
	def.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		executed = true
		return "ran", nil
	}
	e := newTestExecutor(t, def, modesIn(homeostasis.ModeDegraded))

	e.Execute(context.Background(), "echo", map[string]any{"path": "a.txt"})
	if executed {
		t.Error("denied tool must not run its implementation")
	}
}

func TestSemWeight(t *testing.T) {
	cases := []struct {
		limit int64
		want  int64
	}{
		{0, 1},
		{1, 64},
		{2, 32},
		{8, 8},
		{64, 1},
		{100, 1},
	}
	for _, tc := range cases {
		if got := semWeight(tc.limit); got != tc.want {
			t.Errorf("semWeight(%d) = %d, want %d", tc.limit, got, tc.want)
		}
	}
}
