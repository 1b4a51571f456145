package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.Sync.GroupInterval)
	assert.Equal(t, 8*time.Second, cfg.Sync.DirectInterval)
	assert.Equal(t, 50, cfg.Sync.Window)
	assert.Equal(t, 5, cfg.Sync.MarkBatch)
	assert.Equal(t, "offset", cfg.API.Pagination)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://chat.example
  pagination: page
sync:
  window: 100
  group_interval: 2s
storage:
  backend: memory
`), 0o600))

	t.Setenv("MEETSYNC_WINDOW", "80")
	t.Setenv("MEETSYNC_VIDEO_TOKEN_PATHS", "/a/{id},/b/{id}")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://chat.example", cfg.API.BaseURL)
	assert.Equal(t, "page", cfg.API.Pagination)
	assert.Equal(t, 80, cfg.Sync.Window)
	assert.Equal(t, 2*time.Second, cfg.Sync.GroupInterval)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, []string{"/a/{id}", "/b/{id}"}, cfg.API.VideoTokenPaths)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MEETSYNC_PAGINATION", "cursor")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
