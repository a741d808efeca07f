package buffer

import (
	"sync"
)

// NewLrukReplacer returns a replacer that evicts the frame with the largest
// backward k-distance. Frames with fewer than k recorded accesses have an
// infinite distance and are evicted first, oldest access first.
func NewLrukReplacer(capacity, k int) *LrukReplacer {
	return &LrukReplacer{
		k:            k,
		nodeStore:    make(map[int]*lrukNode, capacity),
		replacerSize: capacity,
	}
}

// Pin records an access to frameId and makes it non-evictable.
func (lru *LrukReplacer) Pin(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node := lru.recordAccess(frameId)
	lru.setEvictable(node, false)
}

func (lru *LrukReplacer) Unpin(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = lru.recordAccess(frameId)
	}
	lru.setEvictable(node, true)
}

func (lru *LrukReplacer) Remove(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if node, ok := lru.nodeStore[frameId]; ok {
		lru.setEvictable(node, false)
		delete(lru.nodeStore, frameId)
	}
}

func (lru *LrukReplacer) Victim() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	var victim *lrukNode
	for _, node := range lru.nodeStore {
		if !node.isEvictable {
			continue
		}
		if victim == nil || node.evictsBefore(victim) {
			victim = node
		}
	}

	if victim == nil {
		return INVALID_FRAME_ID, false
	}

	lru.setEvictable(victim, false)
	delete(lru.nodeStore, victim.frameId)
	return victim.frameId, true
}

func (lru *LrukReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	return lru.currSize
}

func (lru *LrukReplacer) recordAccess(frameId int) *lrukNode {
	node, ok := lru.nodeStore[frameId]
	if !ok {
		node = &lrukNode{frameId: frameId, k: lru.k}
		lru.nodeStore[frameId] = node
	}

	lru.currTimestamp++
	node.addTimestamp(lru.currTimestamp)
	return node
}

func (lru *LrukReplacer) setEvictable(node *lrukNode, evictable bool) {
	if node.isEvictable == evictable {
		return
	}

	node.isEvictable = evictable
	if evictable {
		lru.currSize++
	} else {
		lru.currSize--
	}
}

type LrukReplacer struct {
	mu            sync.Mutex
	nodeStore     map[int]*lrukNode
	replacerSize  int
	currSize      int
	currTimestamp int
	k             int
}

type lrukNode struct {
	frameId     int
	k           int
	history     []int
	isEvictable bool
}

func (n *lrukNode) hasKAccess() bool {
	return n.k == len(n.history)
}

// kthAccess is the oldest timestamp kept, which is the k-th most recent
// access once the node has k accesses.
func (n *lrukNode) kthAccess() int {
	if len(n.history) > 0 {
		return n.history[0]
	}

	return -1
}

func (n *lrukNode) addTimestamp(timestamp int) {
	if len(n.history) < n.k {
		n.history = append(n.history, timestamp)
		return
	}

	n.history = append(n.history[1:], timestamp)
}

func (n *lrukNode) evictsBefore(other *lrukNode) bool {
	if n.hasKAccess() != other.hasKAccess() {
		return !n.hasKAccess()
	}
	return n.kthAccess() < other.kthAccess()
}
