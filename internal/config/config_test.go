package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntfsbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster_size: 8192\nlabel: sandbox\nwrite_retries: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(8192), cfg.ClusterSize)
	assert.Equal(t, "sandbox", cfg.Label)
	assert.Equal(t, 5, cfg.WriteRetries)
	assert.Equal(t, uint32(1024), cfg.RecordSize)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("NTFSBOX_RECORD_SIZE", "4096")
	t.Setenv("NTFSBOX_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), cfg.RecordSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("copy_chunk_clusters: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
