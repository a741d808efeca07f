package buffer

import (
	"sync"
)

// NewLRUReplacer returns a replacer that evicts the frame unpinned the
// longest time ago.
func NewLRUReplacer(capacity int) *LRUReplacer {
	head := &lruNode{frameId: INVALID_FRAME_ID}
	tail := &lruNode{frameId: INVALID_FRAME_ID}

	head.next = tail
	tail.prev = head

	return &LRUReplacer{
		nodeStore: make(map[int]*lruNode, capacity),
		head:      head,
		tail:      tail,
		capacity:  capacity,
	}
}

func (lru *LRUReplacer) Victim() (int, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if len(lru.nodeStore) == 0 {
		return INVALID_FRAME_ID, false
	}

	// front of the list is the least recently unpinned frame
	node := lru.head.next
	lru.removeNode(node)
	delete(lru.nodeStore, node.frameId)

	return node.frameId, true
}

func (lru *LRUReplacer) Pin(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if node, ok := lru.nodeStore[frameId]; ok {
		lru.removeNode(node)
		delete(lru.nodeStore, frameId)
	}
}

func (lru *LRUReplacer) Unpin(frameId int) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if _, ok := lru.nodeStore[frameId]; ok {
		return
	}
	if len(lru.nodeStore) >= lru.capacity {
		return
	}

	node := &lruNode{frameId: frameId}
	lru.addNode(node)
	lru.nodeStore[frameId] = node
}

func (lru *LRUReplacer) Remove(frameId int) {
	lru.Pin(frameId)
}

func (lru *LRUReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	return len(lru.nodeStore)
}

func (lru *LRUReplacer) removeNode(node *lruNode) {
	back := node.prev
	front := node.next

	back.next = front
	front.prev = back
	node.prev, node.next = nil, nil
}

// addNode appends before the tail sentinel.
func (lru *LRUReplacer) addNode(node *lruNode) {
	last := lru.tail.prev

	last.next = node
	node.prev = last
	node.next = lru.tail
	lru.tail.prev = node
}

type lruNode struct {
	prev    *lruNode
	next    *lruNode
	frameId int
}

type LRUReplacer struct {
	mu        sync.Mutex
	nodeStore map[int]*lruNode
	head      *lruNode
	tail      *lruNode
	capacity  int
}
