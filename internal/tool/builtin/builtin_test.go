package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vagus/internal/governance"
	"vagus/internal/homeostasis"
	"vagus/internal/tool"
)

func TestRegisterAll(t *testing.T) {
	reg := tool.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	for _, name := range []string{"read_file", "write_file", "list_dir", "search_text"} {
		if reg.Get(name) == nil {
			t.Errorf("tool %s not registered", name)
		}
	}

	// RegisterAll freezes the registry.
	err := reg.Register(&tool.Definition{
		Name: "late",
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	})
	if err == nil {
		t.Error("registry should be frozen after RegisterAll")
	}
}

func TestGovernanceDefaults(t *testing.T) {
	wf := WriteFile()
	if wf.Rule.RiskTier != governance.RiskMedium {
		t.Errorf("write_file tier = %s", wf.Rule.RiskTier)
	}
	if wf.Rule.ModeAllowed(homeostasis.ModeDegraded) {
		t.Error("write_file should not run in degraded mode")
	}

	rf := ReadFile()
	if !rf.Rule.ModeAllowed(homeostasis.ModeRecovery) {
		t.Error("read_file should run in recovery mode")
	}
	if rf.Rule.ModeAllowed(homeostasis.ModeLockdown) {
		t.Error("no builtin runs in lockdown")
	}
}

func TestReadFileLineRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeReadFile(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(out, "four") {
		t.Errorf("full read = %q", out)
	}

	// JSON-decoded integers arrive as float64.
	out, err = executeReadFile(context.Background(), map[string]any{
		"path":       path,
		"start_line": float64(2),
		"end_line":   float64(3),
	})
	if err != nil {
		t.Fatalf("ranged read failed: %v", err)
	}
	if out != "two\nthree" {
		t.Errorf("ranged read = %q", out)
	}
}

func TestWriteFileCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.txt")

	out, err := executeWriteFile(context.Background(), map[string]any{
		"path":    path,
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(out, "5 bytes") {
		t.Errorf("write output = %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("file contents = %q", data)
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := executeListDir(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("listing = %q", out)
	}
}

func TestSearchText(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc target() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := executeSearchText(context.Background(), map[string]any{
		"dir":   dir,
		"query": "target",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "a.go:2") {
		t.Errorf("search output = %q", out)
	}

	out, err = executeSearchText(context.Background(), map[string]any{
		"dir":   dir,
		"query": "absent",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if out != "no matches" {
		t.Errorf("empty search = %q", out)
	}
}
