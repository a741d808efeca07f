// Package config loads the YAML settings for a storage instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hgl71964/cmu-15445-databases/logger"
	"gopkg.in/yaml.v3"
)

const (
	ReplacerLRU  = "lru"
	ReplacerLRUK = "lru-k"

	minTreeNodeSize = 3
)

type Config struct {
	BufferPool  BufferPoolConfig  `yaml:"buffer_pool"`
	Index       IndexConfig       `yaml:"index"`
	LockManager LockManagerConfig `yaml:"lock_manager"`
	Logger      logger.Config     `yaml:"logger"`
}

type BufferPoolConfig struct {
	PoolSize int `yaml:"pool_size"`
	// Replacer is "lru" or "lru-k".
	Replacer string `yaml:"replacer"`
	LRUK     int    `yaml:"lru_k"`
}

// IndexConfig bounds B+-tree node sizes. Zero derives the size from the
// page capacity for the key width.
type IndexConfig struct {
	LeafMaxSize     int `yaml:"leaf_max_size"`
	InternalMaxSize int `yaml:"internal_max_size"`
}

type LockManagerConfig struct {
	EnableCycleDetection   bool          `yaml:"enable_cycle_detection"`
	CycleDetectionInterval time.Duration `yaml:"cycle_detection_interval"`
}

func Default() Config {
	return Config{
		BufferPool: BufferPoolConfig{
			PoolSize: 64,
			Replacer: ReplacerLRU,
			LRUK:     2,
		},
		LockManager: LockManagerConfig{
			EnableCycleDetection:   true,
			CycleDetectionInterval: 50 * time.Millisecond,
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
	}
}

// Load reads path over the defaults, so absent keys keep their default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.BufferPool.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_pool.pool_size must be positive, got %d", c.BufferPool.PoolSize))
	}
	switch c.BufferPool.Replacer {
	case ReplacerLRU:
	case ReplacerLRUK:
		if c.BufferPool.LRUK <= 0 {
			errs = append(errs, fmt.Errorf("buffer_pool.lru_k must be positive, got %d", c.BufferPool.LRUK))
		}
	default:
		errs = append(errs, fmt.Errorf("buffer_pool.replacer %q is not one of %q, %q", c.BufferPool.Replacer, ReplacerLRU, ReplacerLRUK))
	}

	if err := checkNodeSize("index.leaf_max_size", c.Index.LeafMaxSize); err != nil {
		errs = append(errs, err)
	}
	if err := checkNodeSize("index.internal_max_size", c.Index.InternalMaxSize); err != nil {
		errs = append(errs, err)
	}

	if c.LockManager.EnableCycleDetection && c.LockManager.CycleDetectionInterval <= 0 {
		errs = append(errs, fmt.Errorf("lock_manager.cycle_detection_interval must be positive, got %s", c.LockManager.CycleDetectionInterval))
	}

	return errors.Join(errs...)
}

func checkNodeSize(key string, size int) error {
	if size == 0 || size >= minTreeNodeSize {
		return nil
	}
	return fmt.Errorf("%s must be 0 or at least %d, got %d", key, minTreeNodeSize, size)
}
