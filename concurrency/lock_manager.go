package concurrency

import (
	"context"
	"sync"
	"time"

	"github.com/hgl71964/cmu-15445-databases/logger"
	"github.com/hgl71964/cmu-15445-databases/metrics"
	"github.com/hgl71964/cmu-15445-databases/util"
	"go.uber.org/zap"
)

type LockMode int

const (
	SHARED LockMode = iota
	EXCLUSIVE
)

const DEFAULT_CYCLE_DETECTION_INTERVAL = 50 * time.Millisecond

type Option func(*LockManager)

func WithLogger(log *zap.Logger) Option {
	return func(lm *LockManager) {
		lm.logger = logger.OrNop(log).Named("lockmanager")
	}
}

func WithMetrics(m *metrics.LockManager) Option {
	return func(lm *LockManager) {
		if m != nil {
			lm.metrics = m
		}
	}
}

// WithCycleDetection sets how often the detector runs. A disabled detector
// makes StartDeadlockDetection a no-op.
func WithCycleDetection(enabled bool, interval time.Duration) Option {
	return func(lm *LockManager) {
		lm.enableCycleDetection = enabled
		if interval > 0 {
			lm.cycleDetectionInterval = interval
		}
	}
}

func NewLockManager(opts ...Option) *LockManager {
	lm := &LockManager{
		lockTable:              make(map[util.RID]*lockRequestQueue),
		waitsFor:               newWaitsForGraph(),
		enableCycleDetection:   true,
		cycleDetectionInterval: DEFAULT_CYCLE_DETECTION_INTERVAL,
		logger:                 zap.NewNop(),
		metrics:                metrics.NewLockManager(nil),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// LockShared blocks until txn holds a shared lock on rid. It returns false
// when txn is or becomes aborted.
func (lm *LockManager) LockShared(txn *Transaction, rid util.RID) bool {
	if txn.State() == ABORTED {
		return false
	}
	// dirty reads need no shared locks
	if txn.Isolation() == READ_UNCOMMITTED {
		return true
	}
	if !lm.checkGrowing(txn) {
		return false
	}
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return true
	}

	return lm.acquire(txn, rid, SHARED)
}

// LockExclusive blocks until txn holds an exclusive lock on rid, upgrading
// a shared lock it already holds.
func (lm *LockManager) LockExclusive(txn *Transaction, rid util.RID) bool {
	if txn.State() == ABORTED {
		return false
	}
	if !lm.checkGrowing(txn) {
		return false
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}
	if txn.IsSharedLocked(rid) {
		return lm.LockUpgrade(txn, rid)
	}

	return lm.acquire(txn, rid, EXCLUSIVE)
}

// LockUpgrade turns txn's shared lock on rid into an exclusive one, keeping
// its place in the queue. Only one upgrade may wait per rid; a second
// upgrader is aborted.
func (lm *LockManager) LockUpgrade(txn *Transaction, rid util.RID) bool {
	if txn.State() == ABORTED {
		return false
	}
	if !lm.checkGrowing(txn) {
		return false
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}

	queue := lm.lockQueue(rid)
	defer queue.mu.Unlock()

	if queue.upgrading {
		lm.abort(txn, UPGRADE_CONFLICT)
		return false
	}

	req := queue.find(txn.ID())
	if req == nil || !req.granted {
		return false
	}

	req.mode, req.granted, req.upgrade = EXCLUSIVE, false, true
	queue.upgrading = true
	granted := lm.wait(queue, req)
	queue.upgrading = false

	if !granted {
		txn.release(rid)
		return false
	}

	txn.grant(rid, EXCLUSIVE)
	return true
}

// Unlock releases txn's lock on rid and wakes the rid's waiters. The first
// release moves a growing transaction to shrinking, except when a
// read-committed transaction drops a shared lock.
func (lm *LockManager) Unlock(txn *Transaction, rid util.RID) bool {
	lm.latch.Lock()
	queue, ok := lm.lockTable[rid]
	if !ok {
		lm.latch.Unlock()
		txn.release(rid)
		return false
	}

	queue.mu.Lock()
	found := queue.remove(txn.ID())
	if len(queue.requests) == 0 {
		delete(lm.lockTable, rid)
	}
	queue.cond.Broadcast()
	queue.mu.Unlock()
	lm.latch.Unlock()

	exclusive := txn.release(rid)
	if found && txn.State() == GROWING && (exclusive || txn.Isolation() != READ_COMMITTED) {
		txn.SetState(SHRINKING)
	}
	return found
}

func (lm *LockManager) acquire(txn *Transaction, rid util.RID, mode LockMode) bool {
	queue := lm.lockQueue(rid)
	defer queue.mu.Unlock()

	req := &lockRequest{txn: txn, mode: mode}
	queue.requests = append(queue.requests, req)
	if !lm.wait(queue, req) {
		return false
	}

	txn.grant(rid, mode)
	return true
}

// wait blocks on the queue until req can be granted or its transaction is
// aborted. Called with queue.mu held.
func (lm *LockManager) wait(queue *lockRequestQueue, req *lockRequest) bool {
	waited := false
	for {
		if req.txn.State() == ABORTED {
			queue.remove(req.txn.ID())
			queue.cond.Broadcast()
			return false
		}
		if queue.grantable(req) {
			break
		}

		if !waited {
			waited = true
			lm.metrics.Waits.Inc()
		}
		queue.cond.Wait()
	}

	req.granted = true
	return true
}

// lockQueue returns rid's queue locked, creating it if needed.
func (lm *LockManager) lockQueue(rid util.RID) *lockRequestQueue {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	queue, ok := lm.lockTable[rid]
	if !ok {
		queue = newLockRequestQueue()
		lm.lockTable[rid] = queue
	}

	queue.mu.Lock()
	return queue
}

func (lm *LockManager) checkGrowing(txn *Transaction) bool {
	if txn.State() == GROWING {
		return true
	}

	lm.abort(txn, LOCK_ON_SHRINKING)
	return false
}

func (lm *LockManager) abort(txn *Transaction, reason AbortReason) {
	txn.setAborted(reason)
	lm.metrics.ProtocolAborts.Inc()
	lm.logger.Info("aborted transaction", zap.Int32("txn_id", txn.ID()), zap.Stringer("reason", reason))
}

// StartDeadlockDetection runs the detector every interval until ctx is done
// or StopDeadlockDetection is called.
func (lm *LockManager) StartDeadlockDetection(ctx context.Context) {
	if !lm.enableCycleDetection {
		return
	}

	lm.detectorMu.Lock()
	defer lm.detectorMu.Unlock()
	if lm.stopDetector != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	lm.stopDetector = func() {
		cancel()
		<-done
	}

	go func() {
		defer close(done)
		lm.runCycleDetection(ctx)
	}()
}

func (lm *LockManager) StopDeadlockDetection() {
	lm.detectorMu.Lock()
	stop := lm.stopDetector
	lm.stopDetector = nil
	lm.detectorMu.Unlock()

	if stop != nil {
		stop()
	}
}

func (lm *LockManager) runCycleDetection(ctx context.Context) {
	ticker := time.NewTicker(lm.cycleDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.DetectDeadlocks()
		}
	}
}

type lockRequest struct {
	txn     *Transaction
	mode    LockMode
	granted bool
	// an upgrade keeps its queue slot and only waits for holders
	upgrade bool
}

func newLockRequestQueue() *lockRequestQueue {
	queue := &lockRequestQueue{}
	queue.cond = sync.NewCond(&queue.mu)
	return queue
}

// grantable reports whether req conflicts with no granted request and with
// no earlier request still queued.
func (q *lockRequestQueue) grantable(req *lockRequest) bool {
	ahead := true
	for _, other := range q.requests {
		if other == req {
			ahead = false
			continue
		}

		if req.mode == SHARED {
			if other.mode == EXCLUSIVE && (other.granted || ahead) {
				return false
			}
			continue
		}

		if other.granted || (ahead && !req.upgrade) {
			return false
		}
	}

	return true
}

func (q *lockRequestQueue) find(id TxnID) *lockRequest {
	for _, req := range q.requests {
		if req.txn.ID() == id {
			return req
		}
	}
	return nil
}

func (q *lockRequestQueue) remove(id TxnID) bool {
	for i, req := range q.requests {
		if req.txn.ID() == id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			return true
		}
	}
	return false
}

type lockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading bool
}

type LockManager struct {
	// guards lockTable; taken before any queue mutex
	latch     sync.Mutex
	lockTable map[util.RID]*lockRequestQueue
	waitsFor  *waitsForGraph

	enableCycleDetection   bool
	cycleDetectionInterval time.Duration
	detectorMu             sync.Mutex
	stopDetector           func()

	logger  *zap.Logger
	metrics *metrics.LockManager
}
