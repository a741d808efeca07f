// Package concurrency implements strict two-phase locking over RIDs with
// periodic deadlock detection.
package concurrency

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hgl71964/cmu-15445-databases/util"
)

type TxnID = int32

const INVALID_TXN_ID TxnID = -1

type TransactionState int32

const (
	GROWING TransactionState = iota
	SHRINKING
	COMMITTED
	ABORTED
)

func (s TransactionState) String() string {
	switch s {
	case GROWING:
		return "growing"
	case SHRINKING:
		return "shrinking"
	case COMMITTED:
		return "committed"
	case ABORTED:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type IsolationLevel int

const (
	READ_UNCOMMITTED IsolationLevel = iota
	REPEATABLE_READ
	READ_COMMITTED
)

func (l IsolationLevel) String() string {
	switch l {
	case READ_UNCOMMITTED:
		return "read-uncommitted"
	case REPEATABLE_READ:
		return "repeatable-read"
	case READ_COMMITTED:
		return "read-committed"
	}
	return fmt.Sprintf("isolation(%d)", int(l))
}

// AbortReason records why the lock manager aborted a transaction.
type AbortReason int

const (
	NOT_ABORTED AbortReason = iota
	LOCK_ON_SHRINKING
	UPGRADE_CONFLICT
	DEADLOCK
)

func (r AbortReason) String() string {
	switch r {
	case NOT_ABORTED:
		return "none"
	case LOCK_ON_SHRINKING:
		return "lock on shrinking"
	case UPGRADE_CONFLICT:
		return "upgrade conflict"
	case DEADLOCK:
		return "deadlock"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

func NewTransaction(id TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolation:      isolation,
		sharedLocks:    make(map[util.RID]struct{}),
		exclusiveLocks: make(map[util.RID]struct{}),
	}
}

func (t *Transaction) ID() TxnID {
	return t.id
}

func (t *Transaction) Isolation() IsolationLevel {
	return t.isolation
}

func (t *Transaction) State() TransactionState {
	return TransactionState(t.state.Load())
}

func (t *Transaction) SetState(state TransactionState) {
	t.state.Store(int32(state))
}

func (t *Transaction) AbortReason() AbortReason {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.abortReason
}

func (t *Transaction) IsSharedLocked(rid util.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sharedLocks[rid]
	return ok
}

func (t *Transaction) IsExclusiveLocked(rid util.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.exclusiveLocks[rid]
	return ok
}

func (t *Transaction) SharedLockSet() []util.RID {
	t.mu.Lock()
	defer t.mu.Unlock()

	return sortedRIDs(t.sharedLocks)
}

func (t *Transaction) ExclusiveLockSet() []util.RID {
	t.mu.Lock()
	defer t.mu.Unlock()

	return sortedRIDs(t.exclusiveLocks)
}

func (t *Transaction) setAborted(reason AbortReason) {
	t.mu.Lock()
	if t.abortReason == NOT_ABORTED {
		t.abortReason = reason
	}
	t.mu.Unlock()

	t.SetState(ABORTED)
}

func (t *Transaction) grant(rid util.RID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if mode == EXCLUSIVE {
		delete(t.sharedLocks, rid)
		t.exclusiveLocks[rid] = struct{}{}
		return
	}
	t.sharedLocks[rid] = struct{}{}
}

// release forgets rid and reports whether it was held exclusively.
func (t *Transaction) release(rid util.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exclusive := t.exclusiveLocks[rid]
	delete(t.sharedLocks, rid)
	delete(t.exclusiveLocks, rid)
	return exclusive
}

func sortedRIDs(set map[util.RID]struct{}) []util.RID {
	rids := make([]util.RID, 0, len(set))
	for rid := range set {
		rids = append(rids, rid)
	}

	sort.Slice(rids, func(i, j int) bool {
		if rids[i].PageId != rids[j].PageId {
			return rids[i].PageId < rids[j].PageId
		}
		return rids[i].SlotNum < rids[j].SlotNum
	})
	return rids
}

type Transaction struct {
	id          TxnID
	isolation   IsolationLevel
	state       atomic.Int32
	mu          sync.Mutex
	abortReason AbortReason
	// lock sets, guarded by mu
	sharedLocks    map[util.RID]struct{}
	exclusiveLocks map[util.RID]struct{}
}
