package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg := Default()

		assert.NoError(t, cfg.Validate())
		assert.Equal(t, 64, cfg.BufferPool.PoolSize)
		assert.Equal(t, 50*time.Millisecond, cfg.LockManager.CycleDetectionInterval)
	})

	t.Run("loads yaml over defaults", func(t *testing.T) {
		path := writeConfig(t, `
buffer_pool:
  pool_size: 16
  replacer: lru-k
  lru_k: 3
index:
  leaf_max_size: 4
lock_manager:
  cycle_detection_interval: 10ms
logger:
  level: debug
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 16, cfg.BufferPool.PoolSize)
		assert.Equal(t, ReplacerLRUK, cfg.BufferPool.Replacer)
		assert.Equal(t, 3, cfg.BufferPool.LRUK)
		assert.Equal(t, 4, cfg.Index.LeafMaxSize)
		assert.Equal(t, 0, cfg.Index.InternalMaxSize)
		assert.True(t, cfg.LockManager.EnableCycleDetection)
		assert.Equal(t, 10*time.Millisecond, cfg.LockManager.CycleDetectionInterval)
		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, "console", cfg.Logger.Format)
	})

	t.Run("rejects invalid settings", func(t *testing.T) {
		path := writeConfig(t, `
buffer_pool:
  pool_size: 0
  replacer: clock
index:
  leaf_max_size: 2
  internal_max_size: -1
lock_manager:
  cycle_detection_interval: 0s
`)

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool_size")
		assert.Contains(t, err.Error(), "clock")
		assert.Contains(t, err.Error(), "leaf_max_size")
		assert.Contains(t, err.Error(), "internal_max_size")
		assert.Contains(t, err.Error(), "cycle_detection_interval")
	})

	t.Run("reports missing and malformed files", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)

		_, err = Load(writeConfig(t, "buffer_pool: [1, 2"))
		assert.Error(t, err)
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bustub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
