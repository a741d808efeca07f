package index

import (
	"encoding/binary"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
)

const childIdSize = 4

// internalPage stores size child ids and size-1 separator keys. The key in
// slot 0 is never read.
type internalPage[K any] struct {
	bplusTreePage
	codec KeyCodec[K]
}

func asInternalPage[K any](data []byte, codec KeyCodec[K]) internalPage[K] {
	return internalPage[K]{bplusTreePage: asTreePage(data), codec: codec}
}

func (p internalPage[K]) init(pageId, parentId disk.PageID, maxSize int) {
	p.bplusTreePage.init(INTERNAL_PAGE, pageId, parentId, maxSize)
}

func (p internalPage[K]) entrySize() int {
	return p.codec.Size + childIdSize
}

func (p internalPage[K]) keyAt(idx int) K {
	p.checkSlot(idx)
	off := p.entryOffset(idx, p.entrySize())
	return p.codec.Decode(p.data[off : off+p.codec.Size])
}

func (p internalPage[K]) setKeyAt(idx int, key K) {
	off := p.entryOffset(idx, p.entrySize())
	p.codec.Encode(p.data[off:off+p.codec.Size], key)
}

func (p internalPage[K]) valueAt(idx int) disk.PageID {
	p.checkSlot(idx)
	off := p.entryOffset(idx, p.entrySize()) + p.codec.Size
	return disk.PageID(int32(binary.LittleEndian.Uint32(p.data[off:])))
}

func (p internalPage[K]) setValueAt(idx int, child disk.PageID) {
	off := p.entryOffset(idx, p.entrySize()) + p.codec.Size
	binary.LittleEndian.PutUint32(p.data[off:], uint32(child))
}

func (p internalPage[K]) valueIndex(child disk.PageID) int {
	for i := range p.size() {
		if p.valueAt(i) == child {
			return i
		}
	}
	return -1
}

// lookup returns the child whose subtree covers key.
func (p internalPage[K]) lookup(key K) disk.PageID {
	left, right := 1, p.size()
	for left < right {
		mid := left + (right-left)/2
		if p.codec.Compare(p.keyAt(mid), key) <= 0 {
			left = mid + 1
		} else {
			right = mid
		}
	}

	return p.valueAt(left - 1)
}

func (p internalPage[K]) populateNewRoot(left disk.PageID, key K, right disk.PageID) {
	p.setSize(2)
	p.setValueAt(0, left)
	p.setKeyAt(1, key)
	p.setValueAt(1, right)
}

// insertNodeAfter adds (key, newChild) right after oldChild and returns the
// new size.
func (p internalPage[K]) insertNodeAfter(oldChild disk.PageID, key K, newChild disk.PageID) int {
	idx := p.valueIndex(oldChild) + 1
	p.shift(idx, 1, p.entrySize())
	p.setKeyAt(idx, key)
	p.setValueAt(idx, newChild)
	p.setSize(p.size() + 1)
	return p.size()
}

func (p internalPage[K]) remove(idx int) {
	p.checkSlot(idx)
	p.shift(idx+1, -1, p.entrySize())
	p.setSize(p.size() - 1)
}

func (p internalPage[K]) removeAndReturnOnlyChild() disk.PageID {
	child := p.valueAt(0)
	p.setSize(0)
	return child
}

func (p internalPage[K]) append(key K, child disk.PageID) {
	idx := p.size()
	p.setKeyAt(idx, key)
	p.setValueAt(idx, child)
	p.setSize(idx + 1)
}

// moveHalfTo moves the upper half to the empty recipient. The recipient's
// slot 0 key is the separator the caller pushes into the parent. It returns
// the children that changed parent.
func (p internalPage[K]) moveHalfTo(recipient internalPage[K]) (K, []disk.PageID) {
	size := p.size()
	keep := (size + 1) / 2

	moved := make([]disk.PageID, 0, size-keep)
	for i := keep; i < size; i++ {
		recipient.append(p.keyAt(i), p.valueAt(i))
		moved = append(moved, p.valueAt(i))
	}
	p.setSize(keep)

	return recipient.keyAt(0), moved
}

// moveAllTo appends every child to recipient, pulling middleKey down from
// the parent as the separator for this page's first child.
func (p internalPage[K]) moveAllTo(recipient internalPage[K], middleKey K) []disk.PageID {
	moved := make([]disk.PageID, 0, p.size())
	for i := range p.size() {
		key := middleKey
		if i > 0 {
			key = p.keyAt(i)
		}
		recipient.append(key, p.valueAt(i))
		moved = append(moved, p.valueAt(i))
	}
	p.setSize(0)

	return moved
}

// moveFirstToEndOf rotates this page's first child to the end of its left
// sibling. It returns the moved child and the new parent separator.
func (p internalPage[K]) moveFirstToEndOf(recipient internalPage[K], middleKey K) (disk.PageID, K) {
	child := p.valueAt(0)
	separator := p.keyAt(1)

	recipient.append(middleKey, child)
	p.remove(0)

	return child, separator
}

// moveLastToFrontOf rotates this page's last child to the front of its
// right sibling. It returns the moved child and the new parent separator.
func (p internalPage[K]) moveLastToFrontOf(recipient internalPage[K], middleKey K) (disk.PageID, K) {
	last := p.size() - 1
	child := p.valueAt(last)
	separator := p.keyAt(last)
	p.remove(last)

	recipient.shift(0, 1, recipient.entrySize())
	recipient.setValueAt(0, child)
	recipient.setKeyAt(1, middleKey)
	recipient.setSize(recipient.size() + 1)

	return child, separator
}
