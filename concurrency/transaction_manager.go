package concurrency

import (
	"sync"

	"github.com/hgl71964/cmu-15445-databases/logger"
	"go.uber.org/zap"
)

func NewTransactionManager(lockManager *LockManager, log *zap.Logger) *TransactionManager {
	return &TransactionManager{
		lockManager: lockManager,
		txnMap:      make(map[TxnID]*Transaction),
		logger:      logger.OrNop(log).Named("txnmanager"),
	}
}

// Begin starts a transaction. Ids increase, so a larger id is a younger
// transaction.
func (tm *TransactionManager) Begin(isolation IsolationLevel) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn := NewTransaction(tm.nextTxnId, isolation)
	tm.txnMap[txn.ID()] = txn
	tm.nextTxnId++

	tm.logger.Debug("begin", zap.Int32("txn_id", txn.ID()), zap.Stringer("isolation", isolation))
	return txn
}

func (tm *TransactionManager) Commit(txn *Transaction) {
	txn.SetState(COMMITTED)
	tm.releaseLocks(txn)
	tm.logger.Debug("commit", zap.Int32("txn_id", txn.ID()))
}

func (tm *TransactionManager) Abort(txn *Transaction) {
	txn.SetState(ABORTED)
	tm.releaseLocks(txn)
	tm.logger.Debug("abort", zap.Int32("txn_id", txn.ID()), zap.Stringer("reason", txn.AbortReason()))
}

// GetTransaction finds a transaction by id, including finished ones.
func (tm *TransactionManager) GetTransaction(id TxnID) (*Transaction, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, ok := tm.txnMap[id]
	return txn, ok
}

func (tm *TransactionManager) releaseLocks(txn *Transaction) {
	for _, rid := range txn.ExclusiveLockSet() {
		tm.lockManager.Unlock(txn, rid)
	}
	for _, rid := range txn.SharedLockSet() {
		tm.lockManager.Unlock(txn, rid)
	}
}

type TransactionManager struct {
	mu          sync.Mutex
	nextTxnId   TxnID
	txnMap      map[TxnID]*Transaction
	lockManager *LockManager
	logger      *zap.Logger
}
