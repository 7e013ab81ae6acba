package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr = ":9000"
instance_dir = "data"
queue_buffer = 4
`), 0o644))

	t.Setenv("WASMIOT_QUEUE_BUFFER", "64")

	require.NoError(t, Parse(path))
	cfg := Get()
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "data", cfg.InstanceDir)
	require.Equal(t, 64, cfg.QueueBuffer)
}

func TestParseWithMissingFileFallsBackToDefaults(t *testing.T) {
	require.NoError(t, Parse(filepath.Join(t.TempDir(), "missing.toml")))
	cfg := Get()
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 30, cfg.SubCallTimeoutSeconds)
}
