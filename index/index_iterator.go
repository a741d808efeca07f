package index

import (
	"github.com/hgl71964/cmu-15445-databases/buffer"
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
)

// Begin positions an iterator at the smallest key.
func (b *BPlusTree[K]) Begin() (*IndexIterator[K], error) {
	var zero K
	guard, err := b.findLeafRead(zero, true)
	if err != nil {
		return nil, err
	}

	return b.newIterator(&IndexIterator[K]{tree: b, guard: guard, seekKey: zero, leftMost: true})
}

// BeginAt positions an iterator at the first key >= key.
func (b *BPlusTree[K]) BeginAt(key K) (*IndexIterator[K], error) {
	guard, err := b.findLeafRead(key, false)
	if err != nil || guard == nil {
		return b.End(), err
	}

	idx := b.leaf(guard.GetData()).keyIndex(key)
	return b.newIterator(&IndexIterator[K]{tree: b, guard: guard, idx: idx, seekKey: key, inclusive: true})
}

func (b *BPlusTree[K]) End() *IndexIterator[K] {
	return &IndexIterator[K]{tree: b}
}

func (b *BPlusTree[K]) newIterator(it *IndexIterator[K]) (*IndexIterator[K], error) {
	if it.guard == nil {
		return it, nil
	}

	it.leaf = b.leaf(it.guard.GetData())
	if err := it.settle(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *IndexIterator[K]) IsEnd() bool {
	return it.guard == nil
}

func (it *IndexIterator[K]) Key() K {
	if it.IsEnd() {
		panic("key of an exhausted iterator")
	}
	return it.leaf.keyAt(it.idx)
}

func (it *IndexIterator[K]) Value() util.RID {
	if it.IsEnd() {
		panic("value of an exhausted iterator")
	}
	return it.leaf.valueAt(it.idx)
}

// Next advances past the current entry.
func (it *IndexIterator[K]) Next() error {
	if it.IsEnd() {
		return nil
	}

	it.seekKey, it.inclusive, it.leftMost = it.Key(), false, false
	it.idx++
	return it.settle()
}

// Close releases the leaf latch. Iterators hold a read latch, so close them
// before writing to the tree from the same goroutine.
func (it *IndexIterator[K]) Close() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
}

// settle moves forward until idx names an entry or the leaves run out.
func (it *IndexIterator[K]) settle() error {
	for it.idx >= it.leaf.size() {
		next := it.leaf.nextPageId()
		if next == disk.INVALID_PAGE_ID {
			it.Close()
			return nil
		}

		guard, ok, err := it.tree.bpm.TryFetchPageRead(next)
		if err != nil {
			it.Close()
			return err
		}
		if ok {
			it.guard.Drop()
			it.guard, it.leaf, it.idx = guard, it.tree.leaf(guard.GetData()), 0
			continue
		}

		// a writer owns the next leaf; let go and search again from the root
		it.Close()
		if err := it.reseek(); err != nil || it.guard == nil {
			return err
		}
	}

	return nil
}

func (it *IndexIterator[K]) reseek() error {
	guard, err := it.tree.findLeafRead(it.seekKey, it.leftMost)
	if err != nil || guard == nil {
		return err
	}

	leaf := it.tree.leaf(guard.GetData())
	idx := 0
	if !it.leftMost {
		idx = leaf.keyIndex(it.seekKey)
		if !it.inclusive && idx < leaf.size() && it.tree.codec.Compare(leaf.keyAt(idx), it.seekKey) == 0 {
			idx++
		}
	}

	it.guard, it.leaf, it.idx = guard, leaf, idx
	return nil
}

// IndexIterator walks the leaf chain in key order.
type IndexIterator[K any] struct {
	tree  *BPlusTree[K]
	guard *buffer.ReadPageGuard
	leaf  leafPage[K]
	idx   int
	// where to search again from when the next leaf is busy
	seekKey   K
	inclusive bool
	leftMost  bool
}
