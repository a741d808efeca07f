package concurrency

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

func (lm *LockManager) AddEdge(t1, t2 TxnID) {
	lm.waitsFor.addEdge(t1, t2)
}

func (lm *LockManager) RemoveEdge(t1, t2 TxnID) {
	lm.waitsFor.removeEdge(t1, t2)
}

// HasCycle searches the wait-for graph and returns the youngest transaction
// on the first cycle found.
func (lm *LockManager) HasCycle() (TxnID, bool) {
	return lm.waitsFor.findCycle()
}

// GetEdgeList returns every (waiter, holder) edge in ascending order.
func (lm *LockManager) GetEdgeList() [][2]TxnID {
	return lm.waitsFor.edgeList()
}

// DetectDeadlocks rebuilds the wait-for graph from the lock table and
// aborts victims until it is acyclic. It returns the aborted ids.
func (lm *LockManager) DetectDeadlocks() []TxnID {
	lm.latch.Lock()
	defer lm.latch.Unlock()

	for _, queue := range lm.lockTable {
		queue.mu.Lock()
	}
	defer func() {
		for _, queue := range lm.lockTable {
			queue.mu.Unlock()
		}
	}()

	lm.metrics.DetectionRounds.Inc()
	txns := lm.buildWaitsFor()

	var victims []TxnID
	for {
		victim, ok := lm.waitsFor.findCycle()
		if !ok {
			break
		}

		lm.abortVictim(txns[victim])
		lm.waitsFor.removeNode(victim)
		victims = append(victims, victim)
	}

	return victims
}

// buildWaitsFor replaces the graph with an edge from every waiting request
// to every granted request on the same rid. Called with the latch and all
// queue mutexes held.
func (lm *LockManager) buildWaitsFor() map[TxnID]*Transaction {
	txns := make(map[TxnID]*Transaction)
	lm.waitsFor.reset()

	for _, queue := range lm.lockTable {
		for _, waiter := range queue.requests {
			if waiter.granted || waiter.txn.State() == ABORTED {
				continue
			}

			for _, holder := range queue.requests {
				if !holder.granted || holder.txn == waiter.txn || holder.txn.State() == ABORTED {
					continue
				}

				lm.waitsFor.addEdge(waiter.txn.ID(), holder.txn.ID())
				txns[waiter.txn.ID()] = waiter.txn
				txns[holder.txn.ID()] = holder.txn
			}
		}
	}

	return txns
}

// abortVictim marks txn aborted and drops all its requests so the rest of
// the cycle can proceed. Called with the latch and all queue mutexes held.
func (lm *LockManager) abortVictim(txn *Transaction) {
	txn.setAborted(DEADLOCK)

	for rid, queue := range lm.lockTable {
		if queue.remove(txn.ID()) {
			txn.release(rid)
			queue.cond.Broadcast()
		}
	}

	lm.metrics.DeadlockAborts.Inc()
	lm.logger.Info("aborted deadlock victim", zap.Int32("txn_id", txn.ID()))
}

func newWaitsForGraph() *waitsForGraph {
	return &waitsForGraph{edges: make(map[TxnID]map[TxnID]struct{})}
}

func (g *waitsForGraph) addEdge(t1, t2 TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[t1] == nil {
		g.edges[t1] = make(map[TxnID]struct{})
	}
	g.edges[t1][t2] = struct{}{}
}

func (g *waitsForGraph) removeEdge(t1, t2 TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges[t1], t2)
	if len(g.edges[t1]) == 0 {
		delete(g.edges, t1)
	}
}

func (g *waitsForGraph) removeNode(id TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges, id)
	for waiter, holders := range g.edges {
		delete(holders, id)
		if len(holders) == 0 {
			delete(g.edges, waiter)
		}
	}
}

func (g *waitsForGraph) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges = make(map[TxnID]map[TxnID]struct{})
}

func (g *waitsForGraph) edgeList() [][2]TxnID {
	g.mu.Lock()
	defer g.mu.Unlock()

	edges := [][2]TxnID{}
	for _, t1 := range g.sortedVertices() {
		for _, t2 := range g.neighbors(t1) {
			edges = append(edges, [2]TxnID{t1, t2})
		}
	}
	return edges
}

// findCycle runs a depth first search from the lowest id, visiting
// neighbors lowest first, and returns the largest id on the first cycle.
func (g *waitsForGraph) findCycle() (TxnID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	visited := make(map[TxnID]bool)
	onStack := make(map[TxnID]bool)
	var stack []TxnID

	var dfs func(id TxnID) (TxnID, bool)
	dfs = func(id TxnID) (TxnID, bool) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, next := range g.neighbors(id) {
			if onStack[next] {
				start := slices.Index(stack, next)
				return slices.Max(stack[start:]), true
			}
			if visited[next] {
				continue
			}
			if victim, ok := dfs(next); ok {
				return victim, true
			}
		}

		onStack[id] = false
		stack = stack[:len(stack)-1]
		return INVALID_TXN_ID, false
	}

	for _, id := range g.sortedVertices() {
		if visited[id] {
			continue
		}
		if victim, ok := dfs(id); ok {
			return victim, true
		}
	}
	return INVALID_TXN_ID, false
}

func (g *waitsForGraph) sortedVertices() []TxnID {
	ids := make([]TxnID, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (g *waitsForGraph) neighbors(id TxnID) []TxnID {
	ids := make([]TxnID, 0, len(g.edges[id]))
	for next := range g.edges[id] {
		ids = append(ids, next)
	}
	slices.Sort(ids)
	return ids
}

// waitsForGraph holds an edge t1 -> t2 when t1 waits for a lock t2 holds.
type waitsForGraph struct {
	mu    sync.Mutex
	edges map[TxnID]map[TxnID]struct{}
}
