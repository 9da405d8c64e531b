package hiveconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, "./.hive", cfg.RootDir)
	require.Equal(t, 60*time.Second, cfg.DaemonHealthCheckInterval)
	require.NotEmpty(t, cfg.ReadyTokens)
	require.NotEmpty(t, cfg.ResponseTerminators)
}

func TestLoadFallsBackToDefaultWhenNoFileFound(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	contents := []byte("root_dir: /tmp/my-hive\nworkers:\n  - alice\n  - bob\ndefault_ttl: 5m\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hive.yaml"), contents, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "/tmp/my-hive", cfg.RootDir)
	require.Equal(t, []string{"alice", "bob"}, cfg.Workers)
	require.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	// Unset fields still carry their defaults.
	require.Equal(t, 60*time.Second, cfg.DaemonHealthCheckInterval)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hive.yaml"), []byte("not: [valid yaml"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}
