package index

import (
	"fmt"
	"sync"

	"github.com/hgl71964/cmu-15445-databases/buffer"
	"github.com/hgl71964/cmu-15445-databases/logger"
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
	"go.uber.org/zap"
)

type operation int

const (
	opInsert operation = iota
	opDelete
)

// NewBPlusTree opens the index called name, picking up its root from the
// header page when it already exists. A zero max size derives the largest
// size the page can hold for the key width.
func NewBPlusTree[K any](name string, bpm *buffer.BufferpoolManager, codec KeyCodec[K], leafMaxSize, internalMaxSize int, log *zap.Logger) (*BPlusTree[K], error) {
	leafLimit := leafCapacity(codec.Size)
	// internal pages hold one extra entry before they split
	internalLimit := internalCapacity(codec.Size) - 1

	if leafMaxSize == 0 {
		leafMaxSize = leafLimit
	}
	if internalMaxSize == 0 {
		internalMaxSize = internalLimit
	}
	if leafMaxSize < 3 || leafMaxSize > leafLimit {
		return nil, fmt.Errorf("%w: leaf max size %d not in [3, %d]", util.ErrInvalidMaxSize, leafMaxSize, leafLimit)
	}
	if internalMaxSize < 3 || internalMaxSize > internalLimit {
		return nil, fmt.Errorf("%w: internal max size %d not in [3, %d]", util.ErrInvalidMaxSize, internalMaxSize, internalLimit)
	}

	guard, err := bpm.FetchPageRead(disk.HEADER_PAGE_ID)
	if err != nil {
		return nil, fmt.Errorf("error reading header page: %w", err)
	}
	defer guard.Drop()

	root, recorded, err := NewHeaderPage(guard.GetData()).GetRootId(name)
	if err != nil {
		return nil, err
	}

	return &BPlusTree[K]{
		indexName:       name,
		bpm:             bpm,
		codec:           codec,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageId:      root,
		recorded:        recorded,
		logger:          logger.OrNop(log).Named("bplustree").With(zap.String("index", name)),
	}, nil
}

func (b *BPlusTree[K]) IsEmpty() bool {
	return b.GetRootPageId() == disk.INVALID_PAGE_ID
}

func (b *BPlusTree[K]) GetRootPageId() disk.PageID {
	b.rootMu.Lock()
	defer b.rootMu.Unlock()

	return b.rootPageId
}

// GetValue returns the RID stored under key.
func (b *BPlusTree[K]) GetValue(key K) (util.RID, bool, error) {
	guard, err := b.findLeafRead(key, false)
	if err != nil || guard == nil {
		return util.RID{}, false, err
	}
	defer guard.Drop()

	value, ok := b.leaf(guard.GetData()).lookup(key)
	return value, ok, nil
}

// Insert adds key and returns false when it is already present.
func (b *BPlusTree[K]) Insert(key K, value util.RID) (bool, error) {
	state := &crabState{}
	b.lockRoot(state)
	defer b.release(state)

	if b.rootPageId == disk.INVALID_PAGE_ID {
		return true, b.startNewTree(state, key, value)
	}

	leafGuard, err := b.findLeafWrite(key, state, opInsert)
	if err != nil {
		return false, err
	}

	if _, ok := b.leaf(leafGuard.GetData()).lookup(key); ok {
		return false, nil
	}

	// every page a split cascade needs is pinned before anything changes
	pages, newRoot := b.splitsNeeded(state)
	spares, err := b.reserve(state, pages, newRoot)
	if err != nil {
		return false, err
	}

	leaf := b.leaf(leafGuard.GetDataMut())
	if leaf.insert(key, value) < leaf.maxSize() {
		return true, nil
	}

	newGuard := spares.pop()
	sibling := b.leaf(newGuard.GetDataMut())
	sibling.init(newGuard.PageId(), leaf.parentPageId(), b.leafMaxSize)
	leaf.moveHalfTo(sibling)
	sibling.setNextPageId(leaf.nextPageId())
	leaf.setNextPageId(sibling.pageId())

	b.logger.Debug("split leaf", zap.Int32("page_id", int32(leaf.pageId())), zap.Int32("sibling_id", int32(sibling.pageId())))
	return true, b.insertIntoParent(state, len(state.guards)-1, sibling.keyAt(0), newGuard, spares)
}

// Remove deletes key if present, rebalancing underfull pages.
func (b *BPlusTree[K]) Remove(key K) error {
	state := &crabState{}
	b.lockRoot(state)
	defer b.release(state)

	if b.rootPageId == disk.INVALID_PAGE_ID {
		return nil
	}

	leafGuard, err := b.findLeafWrite(key, state, opDelete)
	if err != nil {
		return err
	}

	if _, ok := b.leaf(leafGuard.GetData()).lookup(key); !ok {
		return nil
	}

	// as with inserts, pages a merge cascade needs are pinned first
	if err := b.holdSiblings(state); err != nil {
		return err
	}
	if state.rootLocked {
		if err := b.holdHeader(state); err != nil {
			return err
		}
	}

	b.leaf(leafGuard.GetDataMut()).remove(key)
	return b.rebalance(state, len(state.guards)-1)
}

func (b *BPlusTree[K]) startNewTree(state *crabState, key K, value util.RID) error {
	guard, err := b.bpm.NewPageGuarded()
	if err != nil {
		return err
	}
	state.hold(guard)

	if err := b.holdHeader(state); err != nil {
		state.deleted = append(state.deleted, guard.PageId())
		return err
	}
	if err := b.setRoot(state, guard.PageId()); err != nil {
		state.deleted = append(state.deleted, guard.PageId())
		return err
	}

	root := b.leaf(guard.GetDataMut())
	root.init(guard.PageId(), disk.INVALID_PAGE_ID, b.leafMaxSize)
	root.insert(key, value)
	return nil
}

// insertIntoParent links right into the parent of state.guards[level],
// splitting ancestors as needed.
func (b *BPlusTree[K]) insertIntoParent(state *crabState, level int, key K, right *buffer.WritePageGuard, spares *guardStack) error {
	left := asTreePage(state.guards[level].GetDataMut())
	rightPage := asTreePage(right.GetDataMut())

	if left.isRootPage() {
		rootGuard := spares.pop()
		root := b.internal(rootGuard.GetDataMut())
		root.init(rootGuard.PageId(), disk.INVALID_PAGE_ID, b.internalMaxSize)
		root.populateNewRoot(left.pageId(), key, rightPage.pageId())

		left.setParentPageId(root.pageId())
		rightPage.setParentPageId(root.pageId())

		b.logger.Debug("grew new root", zap.Int32("root_id", int32(root.pageId())))
		return b.setRoot(state, root.pageId())
	}

	if level == 0 {
		panic(fmt.Sprintf("parent of page %d is not latched", left.pageId()))
	}

	parentGuard := state.guards[level-1]
	parent := b.internal(parentGuard.GetDataMut())
	rightPage.setParentPageId(parent.pageId())
	if parent.insertNodeAfter(left.pageId(), key, rightPage.pageId()) <= parent.maxSize() {
		return nil
	}

	newGuard := spares.pop()
	sibling := b.internal(newGuard.GetDataMut())
	sibling.init(newGuard.PageId(), parent.parentPageId(), b.internalMaxSize)
	separator, moved := parent.moveHalfTo(sibling)
	if err := b.adopt(state, moved, sibling.pageId()); err != nil {
		return err
	}

	b.logger.Debug("split internal page", zap.Int32("page_id", int32(parent.pageId())), zap.Int32("sibling_id", int32(sibling.pageId())))
	return b.insertIntoParent(state, level-1, separator, newGuard, spares)
}

// rebalance fixes an underfull page at state.guards[level] by borrowing
// from or merging with a sibling, walking up while parents underflow.
func (b *BPlusTree[K]) rebalance(state *crabState, level int) error {
	guard := state.guards[level]
	node := asTreePage(guard.GetData())

	if node.isRootPage() {
		return b.adjustRoot(state, guard)
	}
	if node.size() >= node.minSize() {
		return nil
	}
	if level == 0 {
		panic(fmt.Sprintf("parent of page %d is not latched", node.pageId()))
	}

	parentGuard := state.guards[level-1]
	parent := b.internal(parentGuard.GetDataMut())
	idx := parent.valueIndex(node.pageId())
	if idx < 0 {
		panic(fmt.Sprintf("page %d is not a child of its parent %d", node.pageId(), parent.pageId()))
	}

	siblingGuard := state.siblings[level]
	if siblingGuard == nil || siblingGuard.PageId() != parent.valueAt(siblingIndex(idx)) {
		panic(fmt.Sprintf("sibling of page %d is not latched", node.pageId()))
	}

	sibling := asTreePage(siblingGuard.GetData())
	total := sibling.size() + node.size()
	merge := total <= node.maxSize()
	if node.isLeafPage() {
		merge = total < node.maxSize()
	}

	if !merge {
		return b.redistribute(state, guard, siblingGuard, parent, idx)
	}

	// always fold the right page into the left one
	leftGuard, rightGuard, separatorIdx := siblingGuard, guard, idx
	if idx == 0 {
		leftGuard, rightGuard, separatorIdx = guard, siblingGuard, 1
	}

	if node.isLeafPage() {
		b.leaf(rightGuard.GetDataMut()).moveAllTo(b.leaf(leftGuard.GetDataMut()))
	} else {
		left := b.internal(leftGuard.GetDataMut())
		moved := b.internal(rightGuard.GetDataMut()).moveAllTo(left, parent.keyAt(separatorIdx))
		if err := b.adopt(state, moved, left.pageId()); err != nil {
			return err
		}
	}

	parent.remove(separatorIdx)
	state.deleted = append(state.deleted, rightGuard.PageId())
	b.logger.Debug("merged pages", zap.Int32("into", int32(leftGuard.PageId())), zap.Int32("removed", int32(rightGuard.PageId())))

	return b.rebalance(state, level-1)
}

func (b *BPlusTree[K]) redistribute(state *crabState, guard, siblingGuard *buffer.WritePageGuard, parent internalPage[K], idx int) error {
	if asTreePage(guard.GetData()).isLeafPage() {
		node, sibling := b.leaf(guard.GetDataMut()), b.leaf(siblingGuard.GetDataMut())
		if idx == 0 {
			sibling.moveFirstToEndOf(node)
			parent.setKeyAt(1, sibling.keyAt(0))
		} else {
			sibling.moveLastToFrontOf(node)
			parent.setKeyAt(idx, node.keyAt(0))
		}
		return nil
	}

	node, sibling := b.internal(guard.GetDataMut()), b.internal(siblingGuard.GetDataMut())
	var child disk.PageID
	if idx == 0 {
		var separator K
		child, separator = sibling.moveFirstToEndOf(node, parent.keyAt(1))
		parent.setKeyAt(1, separator)
	} else {
		var separator K
		child, separator = sibling.moveLastToFrontOf(node, parent.keyAt(idx))
		parent.setKeyAt(idx, separator)
	}

	return b.adopt(state, []disk.PageID{child}, node.pageId())
}

// adjustRoot empties the tree when the root leaf runs dry and promotes the
// only child of an internal root.
func (b *BPlusTree[K]) adjustRoot(state *crabState, guard *buffer.WritePageGuard) error {
	root := asTreePage(guard.GetData())

	if root.isLeafPage() {
		if root.size() > 0 {
			return nil
		}

		state.deleted = append(state.deleted, root.pageId())
		return b.setRoot(state, disk.INVALID_PAGE_ID)
	}

	if root.size() > 1 {
		return nil
	}

	child := b.internal(guard.GetDataMut()).removeAndReturnOnlyChild()
	if err := b.adopt(state, []disk.PageID{child}, disk.INVALID_PAGE_ID); err != nil {
		return err
	}

	state.deleted = append(state.deleted, root.pageId())
	b.logger.Debug("collapsed root", zap.Int32("new_root_id", int32(child)))
	return b.setRoot(state, child)
}

// adopt points the parent field of each child at parentId. Children latched
// by this operation are updated in place, others through ModifyPage, which
// needs no free frame.
func (b *BPlusTree[K]) adopt(state *crabState, children []disk.PageID, parentId disk.PageID) error {
	for _, child := range children {
		if guard := state.lookup(child); guard != nil {
			asTreePage(guard.GetDataMut()).setParentPageId(parentId)
			continue
		}

		err := b.bpm.ModifyPage(child, func(data []byte) {
			asTreePage(data).setParentPageId(parentId)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// splitsNeeded counts the pages an insert into the latched leaf allocates:
// one per splitting page plus a new root when the split reaches the root.
func (b *BPlusTree[K]) splitsNeeded(state *crabState) (int, bool) {
	n := 0
	for i := len(state.guards) - 1; i >= 0; i-- {
		page := asTreePage(state.guards[i].GetData())

		grown := page.size() + 1
		if (page.isLeafPage() && grown < page.maxSize()) || (!page.isLeafPage() && grown <= page.maxSize()) {
			return n, false
		}

		n++
		if page.isRootPage() {
			return n + 1, true
		}
	}

	panic("split reaches a page whose parent is not latched")
}

// reserve allocates n pages and latches the header page when the root will
// change. On failure the new pages are freed and nothing else is touched.
func (b *BPlusTree[K]) reserve(state *crabState, n int, header bool) (*guardStack, error) {
	spares := &guardStack{}
	free := func() {
		for _, g := range spares.guards {
			state.deleted = append(state.deleted, g.PageId())
		}
	}

	for range n {
		guard, err := b.bpm.NewPageGuarded()
		if err != nil {
			free()
			return nil, err
		}

		state.hold(guard)
		spares.guards = append(spares.guards, guard)
	}

	if header {
		if err := b.holdHeader(state); err != nil {
			free()
			return nil, err
		}
	}

	return spares, nil
}

// holdSiblings latches, for every page on the path that may underflow, the
// sibling rebalance would borrow from or merge with. Siblings are taken top
// down while their parents are write latched.
func (b *BPlusTree[K]) holdSiblings(state *crabState) error {
	state.siblings = make([]*buffer.WritePageGuard, len(state.guards))

	for level := 1; level < len(state.guards); level++ {
		parent := b.internal(state.guards[level-1].GetData())
		idx := parent.valueIndex(state.guards[level].PageId())
		if idx < 0 {
			panic(fmt.Sprintf("page %d is not a child of its parent %d", state.guards[level].PageId(), parent.pageId()))
		}

		guard, err := b.bpm.FetchPageWrite(parent.valueAt(siblingIndex(idx)))
		if err != nil {
			return err
		}
		state.hold(guard)
		state.siblings[level] = guard
	}

	return nil
}

func (b *BPlusTree[K]) holdHeader(state *crabState) error {
	guard, err := b.bpm.FetchPageWrite(disk.HEADER_PAGE_ID)
	if err != nil {
		return fmt.Errorf("error reading header page: %w", err)
	}

	state.hold(guard)
	state.header = guard
	return nil
}

// siblingIndex picks the left sibling, or the right one for a leftmost child.
func siblingIndex(idx int) int {
	if idx == 0 {
		return 1
	}
	return idx - 1
}

// findLeafRead crabs down with read latches. It returns nil for an empty
// tree.
func (b *BPlusTree[K]) findLeafRead(key K, leftMost bool) (*buffer.ReadPageGuard, error) {
	b.rootMu.Lock()
	if b.rootPageId == disk.INVALID_PAGE_ID {
		b.rootMu.Unlock()
		return nil, nil
	}

	guard, err := b.bpm.FetchPageRead(b.rootPageId)
	b.rootMu.Unlock()
	if err != nil {
		return nil, err
	}

	for {
		if asTreePage(guard.GetData()).isLeafPage() {
			return guard, nil
		}

		page := b.internal(guard.GetData())
		child := page.valueAt(0)
		if !leftMost {
			child = page.lookup(key)
		}

		childGuard, err := b.bpm.FetchPageRead(child)
		guard.Drop()
		if err != nil {
			return nil, err
		}
		guard = childGuard
	}
}

// findLeafWrite crabs down with write latches, releasing every ancestor
// (and the root mutex) once the current page is safe for op. The caller
// holds the root mutex through state.
func (b *BPlusTree[K]) findLeafWrite(key K, state *crabState, op operation) (*buffer.WritePageGuard, error) {
	guard, err := b.bpm.FetchPageWrite(b.rootPageId)
	if err != nil {
		return nil, err
	}

	for {
		state.push(guard)

		page := asTreePage(guard.GetData())
		if b.isSafe(page, op) {
			b.releaseAncestors(state)
		}
		if page.isLeafPage() {
			return guard, nil
		}

		child := b.internal(guard.GetData()).lookup(key)
		if guard, err = b.bpm.FetchPageWrite(child); err != nil {
			return nil, err
		}
	}
}

func (b *BPlusTree[K]) isSafe(page bplusTreePage, op operation) bool {
	if op == opInsert {
		return page.size() < page.maxSize()-1
	}

	if page.isRootPage() {
		if page.isLeafPage() {
			return page.size() > 1
		}
		return page.size() > 2
	}
	return page.size() > page.minSize()
}

// setRoot records root in the latched header page, then swaps the root id.
// Only the first record of an index can fail, and then nothing changes.
func (b *BPlusTree[K]) setRoot(state *crabState, root disk.PageID) error {
	if !state.rootLocked {
		panic(fmt.Sprintf("root of %s changed without the root latch", b.indexName))
	}
	if state.header == nil {
		panic(fmt.Sprintf("root of %s changed without the header page latched", b.indexName))
	}

	if err := b.recordRoot(state.header, root, !b.recorded); err != nil {
		return err
	}
	b.rootPageId = root
	return nil
}

// UpdateRootPageId writes the current root to the header page, inserting a
// new record when insertRecord is set.
func (b *BPlusTree[K]) UpdateRootPageId(insertRecord bool) error {
	b.rootMu.Lock()
	defer b.rootMu.Unlock()

	guard, err := b.bpm.FetchPageWrite(disk.HEADER_PAGE_ID)
	if err != nil {
		return fmt.Errorf("error reading header page: %w", err)
	}
	defer guard.Drop()

	return b.recordRoot(guard, b.rootPageId, insertRecord)
}

// recordRoot is called with rootMu held.
func (b *BPlusTree[K]) recordRoot(guard *buffer.WritePageGuard, root disk.PageID, insertRecord bool) error {
	header := NewHeaderPage(guard.GetDataMut())

	var ok bool
	var err error
	if insertRecord {
		ok, err = header.InsertRecord(b.indexName, root)
	} else {
		ok, err = header.UpdateRecord(b.indexName, root)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("header record for %s: insert=%t did not apply", b.indexName, insertRecord)
	}

	b.recorded = true
	return nil
}

func (b *BPlusTree[K]) lockRoot(state *crabState) {
	b.rootMu.Lock()
	state.rootLocked = true
}

func (b *BPlusTree[K]) releaseAncestors(state *crabState) {
	last := len(state.guards) - 1
	for _, guard := range state.guards[:last] {
		guard.Drop()
	}
	state.guards = state.guards[last:]

	if state.rootLocked {
		state.rootLocked = false
		b.rootMu.Unlock()
	}
}

// release drops every latch the operation holds, then frees the pages it
// emptied.
func (b *BPlusTree[K]) release(state *crabState) {
	for _, guard := range state.guards {
		guard.Drop()
	}
	for _, guard := range state.extra {
		guard.Drop()
	}
	state.guards, state.extra = nil, nil

	if state.rootLocked {
		state.rootLocked = false
		b.rootMu.Unlock()
	}

	for _, pageId := range state.deleted {
		ok, err := b.bpm.DeletePage(pageId)
		if err != nil || !ok {
			b.logger.Warn("could not reclaim page", zap.Int32("page_id", int32(pageId)), zap.Error(err))
		}
	}
}

func (b *BPlusTree[K]) leaf(data []byte) leafPage[K] {
	return asLeafPage(data, b.codec)
}

func (b *BPlusTree[K]) internal(data []byte) internalPage[K] {
	return asInternalPage(data, b.codec)
}

// crabState is the set of latches one write operation holds.
type crabState struct {
	// root to leaf path still latched
	guards []*buffer.WritePageGuard
	// siblings and freshly allocated pages
	extra      []*buffer.WritePageGuard
	rootLocked bool
	deleted    []disk.PageID
	// sibling of guards[level] pinned for a delete, nil at level 0
	siblings []*buffer.WritePageGuard
	header   *buffer.WritePageGuard
}

func (s *crabState) push(guard *buffer.WritePageGuard) {
	s.guards = append(s.guards, guard)
}

func (s *crabState) hold(guard *buffer.WritePageGuard) {
	s.extra = append(s.extra, guard)
}

func (s *crabState) lookup(pageId disk.PageID) *buffer.WritePageGuard {
	for _, guard := range s.guards {
		if guard.PageId() == pageId {
			return guard
		}
	}
	for _, guard := range s.extra {
		if guard.PageId() == pageId {
			return guard
		}
	}
	return nil
}

type guardStack struct {
	guards []*buffer.WritePageGuard
}

func (s *guardStack) pop() *buffer.WritePageGuard {
	if len(s.guards) == 0 {
		panic("split needs more pages than were allocated")
	}

	guard := s.guards[len(s.guards)-1]
	s.guards = s.guards[:len(s.guards)-1]
	return guard
}

type BPlusTree[K any] struct {
	indexName       string
	bpm             *buffer.BufferpoolManager
	codec           KeyCodec[K]
	leafMaxSize     int
	internalMaxSize int
	rootMu          sync.Mutex
	rootPageId      disk.PageID
	recorded        bool
	logger          *zap.Logger
}
