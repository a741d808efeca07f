// Package instance wires a page file, buffer pool, lock manager and
// transaction manager together from a config.Config.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hgl71964/cmu-15445-databases/buffer"
	"github.com/hgl71964/cmu-15445-databases/concurrency"
	"github.com/hgl71964/cmu-15445-databases/config"
	"github.com/hgl71964/cmu-15445-databases/index"
	"github.com/hgl71964/cmu-15445-databases/logger"
	"github.com/hgl71964/cmu-15445-databases/metrics"
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry *prometheus.Registry
}

// WithLogger replaces the logger built from the logger section.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// Open opens or creates the database file at path. Indexes created earlier
// are found again through the header page.
func Open(path string, cfg config.Config, opts ...Option) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		var err error
		if log, err = logger.New(cfg.Logger); err != nil {
			return nil, err
		}
	}
	registry := o.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening db file %s: %w", path, err)
	}

	diskManager, err := disk.NewManager(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	diskScheduler := disk.NewScheduler(diskManager)

	bpm := buffer.NewBufferpoolManager(cfg.BufferPool.PoolSize, newReplacer(cfg.BufferPool), diskScheduler,
		buffer.WithLogger(log), buffer.WithMetrics(metrics.NewBufferPool(registry)))

	lockManager := concurrency.NewLockManager(
		concurrency.WithLogger(log),
		concurrency.WithMetrics(metrics.NewLockManager(registry)),
		concurrency.WithCycleDetection(cfg.LockManager.EnableCycleDetection, cfg.LockManager.CycleDetectionInterval),
	)
	ctx, cancel := context.WithCancel(context.Background())
	lockManager.StartDeadlockDetection(ctx)

	log.Info("opened database",
		zap.String("path", path),
		zap.Int("pool_size", cfg.BufferPool.PoolSize),
		zap.String("replacer", cfg.BufferPool.Replacer))

	return &Instance{
		cfg:           cfg,
		diskManager:   diskManager,
		diskScheduler: diskScheduler,
		bpm:           bpm,
		lockManager:   lockManager,
		txnManager:    concurrency.NewTransactionManager(lockManager, log),
		registry:      registry,
		logger:        log,
		cancel:        cancel,
	}, nil
}

// CreateIndex opens the named index, creating it on first insert.
func (i *Instance) CreateIndex(name string, keyWidth int) (*index.BPlusTreeIndex, error) {
	return index.NewBPlusTreeIndex(name, keyWidth, i.bpm, i.cfg.Index.LeafMaxSize, i.cfg.Index.InternalMaxSize, i.logger)
}

func (i *Instance) BufferPool() *buffer.BufferpoolManager {
	return i.bpm
}

func (i *Instance) LockManager() *concurrency.LockManager {
	return i.lockManager
}

func (i *Instance) TransactionManager() *concurrency.TransactionManager {
	return i.txnManager
}

func (i *Instance) Registry() *prometheus.Registry {
	return i.registry
}

// Close stops deadlock detection, writes back every dirty page and closes
// the file. Closing twice is a no-op.
func (i *Instance) Close() error {
	var err error
	i.closeOnce.Do(func() {
		i.cancel()
		i.lockManager.StopDeadlockDetection()

		flushErr := i.bpm.FlushAllPages()
		i.diskScheduler.Shutdown()
		err = errors.Join(flushErr, i.diskManager.Close())

		if err != nil {
			i.logger.Error("closing database", zap.Error(err))
		}
		_ = i.logger.Sync()
	})
	return err
}

func newReplacer(cfg config.BufferPoolConfig) buffer.Replacer {
	if cfg.Replacer == config.ReplacerLRUK {
		return buffer.NewLrukReplacer(cfg.PoolSize, cfg.LRUK)
	}
	return buffer.NewLRUReplacer(cfg.PoolSize)
}

type Instance struct {
	cfg           config.Config
	diskManager   *disk.Manager
	diskScheduler *disk.DiskScheduler
	bpm           *buffer.BufferpoolManager
	lockManager   *concurrency.LockManager
	txnManager    *concurrency.TransactionManager
	registry      *prometheus.Registry
	logger        *zap.Logger
	cancel        context.CancelFunc
	closeOnce     sync.Once
}
