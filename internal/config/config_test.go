package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"vagus/internal/modelclient"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	reg, err := cfg.RoleRegistry()
	require.NoError(t, err)
	require.NotNil(t, reg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
name: custom
models:
  roles:
    router:
      model: tiny-router
      base_url: http://localhost:9000/v1
      timeout: 15s
homeostasis:
  poll_interval: 2s
  thresholds:
    cpu_alert: 70
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "custom", cfg.Name)
	require.Equal(t, "tiny-router", cfg.Models.Roles["router"].Model)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, float64(70), cfg.Homeostasis.Thresholds.CPUAlert)

	// Untouched roles keep their defaults.
	require.Equal(t, Default().Models.Roles["coding"].Model, cfg.Models.Roles["coding"].Model)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  roles:\n    oracle:\n      model: m\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("homeostasis:\n  poll_interval: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll_interval")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VAGUS_API_KEY", "sk-test-123")
	t.Setenv("VAGUS_LOG_LEVEL", "warn")
	t.Setenv("VAGUS_POLICY_PATH", "/tmp/policy.yaml")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "/tmp/policy.yaml", cfg.Governance.PolicyPath)
	for _, role := range cfg.Models.Roles {
		require.Equal(t, "sk-test-123", role.APIKey)
	}
}

func TestEnvDoesNotClobberExplicitKey(t *testing.T) {
	t.Setenv("VAGUS_API_KEY", "sk-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "models:\n  roles:\n    router:\n      model: m\n      api_key: sk-file\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "sk-file", cfg.Models.Roles["router"].APIKey)
	require.Equal(t, "sk-env", cfg.Models.Roles["coding"].APIKey)
}

func TestLoadEmptyPathEqualsDefault(t *testing.T) {
	for _, v := range []string{"VAGUS_API_KEY", "VAGUS_BASE_URL", "VAGUS_LOG_LEVEL", "VAGUS_POLICY_PATH", "VAGUS_AUDIT_PATH"} {
		t.Setenv(v, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)

	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") differs from Default() (-want +got):\n%s", diff)
	}
}

func TestDuration(t *testing.T) {
	require.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	require.Equal(t, time.Minute, Duration("", time.Minute))
	require.Equal(t, time.Minute, Duration("bogus", time.Minute))
}

func TestRoleRegistryBinding(t *testing.T) {
	cfg := Default()
	rc := cfg.Models.Roles[string(modelclient.RoleReasoning)]
	rc.Timeout = "2m"
	cfg.Models.Roles[string(modelclient.RoleReasoning)] = rc

	reg, err := cfg.RoleRegistry()
	require.NoError(t, err)

	bound, ok := reg.Config(modelclient.RoleReasoning)
	require.True(t, ok)
	require.Equal(t, 2*time.Minute, bound.Timeout)
}
