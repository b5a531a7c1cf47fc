package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, cfg.Runtime.DefaultInteractionTimeout)
	require.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	yaml := []byte(`
server:
  host: 0.0.0.0
  port: 9000
  token: secret
runtime:
  max_subtask_depth: 2
storage:
  driver: sqlite
  path: /tmp/seed.db
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 2, cfg.Runtime.MaxSubtaskDepth)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: 0.0.0.0\n"), 0o600))
	t.Setenv("SEED_SERVER_HOST", "10.0.0.1")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Server.Host)
}

func TestValidateRejectsMissingTokenWithoutBypass(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LocalhostBypass = false
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStorageDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "postgres"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSqliteWithoutPath(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	require.Error(t, cfg.Validate())
}
