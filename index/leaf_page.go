package index

import (
	"encoding/binary"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
)

const ridSize = util.RID_SIZE

// leafPage stores sorted (key, RID) pairs and a link to the next leaf.
type leafPage[K any] struct {
	bplusTreePage
	codec KeyCodec[K]
}

func asLeafPage[K any](data []byte, codec KeyCodec[K]) leafPage[K] {
	return leafPage[K]{bplusTreePage: asTreePage(data), codec: codec}
}

func (p leafPage[K]) init(pageId, parentId disk.PageID, maxSize int) {
	p.bplusTreePage.init(LEAF_PAGE, pageId, parentId, maxSize)
	p.setNextPageId(disk.INVALID_PAGE_ID)
}

func (p leafPage[K]) entrySize() int {
	return p.codec.Size + ridSize
}

func (p leafPage[K]) nextPageId() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(p.data[nextPageOffset:])))
}

func (p leafPage[K]) setNextPageId(id disk.PageID) {
	binary.LittleEndian.PutUint32(p.data[nextPageOffset:], uint32(id))
}

func (p leafPage[K]) keyAt(idx int) K {
	p.checkSlot(idx)
	off := p.entryOffset(idx, p.entrySize())
	return p.codec.Decode(p.data[off : off+p.codec.Size])
}

func (p leafPage[K]) valueAt(idx int) util.RID {
	p.checkSlot(idx)
	off := p.entryOffset(idx, p.entrySize()) + p.codec.Size
	return util.DecodeRID(p.data[off : off+ridSize])
}

func (p leafPage[K]) setEntry(idx int, key K, value util.RID) {
	off := p.entryOffset(idx, p.entrySize())
	p.codec.Encode(p.data[off:off+p.codec.Size], key)
	value.Encode(p.data[off+p.codec.Size : off+p.entrySize()])
}

// keyIndex returns the first slot whose key is >= key.
func (p leafPage[K]) keyIndex(key K) int {
	left, right := 0, p.size()
	for left < right {
		mid := left + (right-left)/2
		if p.codec.Compare(p.keyAt(mid), key) < 0 {
			left = mid + 1
		} else {
			right = mid
		}
	}

	return left
}

func (p leafPage[K]) lookup(key K) (util.RID, bool) {
	idx := p.keyIndex(key)
	if idx < p.size() && p.codec.Compare(p.keyAt(idx), key) == 0 {
		return p.valueAt(idx), true
	}
	return util.RID{}, false
}

// insert places key in order and returns the new size. The caller rejects
// duplicates first.
func (p leafPage[K]) insert(key K, value util.RID) int {
	idx := p.keyIndex(key)
	p.shift(idx, 1, p.entrySize())
	p.setEntry(idx, key, value)
	p.setSize(p.size() + 1)
	return p.size()
}

func (p leafPage[K]) removeAt(idx int) {
	p.checkSlot(idx)
	p.shift(idx+1, -1, p.entrySize())
	p.setSize(p.size() - 1)
}

func (p leafPage[K]) remove(key K) bool {
	idx := p.keyIndex(key)
	if idx >= p.size() || p.codec.Compare(p.keyAt(idx), key) != 0 {
		return false
	}

	p.removeAt(idx)
	return true
}

func (p leafPage[K]) copyEntries(dst leafPage[K], from, to, at int) {
	size := p.entrySize()
	start := p.entryOffset(from, size)
	end := p.entryOffset(to-1, size) + size
	dst.entryOffset(at+to-from-1, size)
	copy(dst.data[dst.entryOffset(at, size):], p.data[start:end])
}

// moveHalfTo keeps the lower half and moves the rest to the empty recipient.
func (p leafPage[K]) moveHalfTo(recipient leafPage[K]) {
	size := p.size()
	keep := size / 2

	p.copyEntries(recipient, keep, size, 0)
	recipient.setSize(size - keep)
	p.setSize(keep)
}

func (p leafPage[K]) moveAllTo(recipient leafPage[K]) {
	size := p.size()
	if size > 0 {
		p.copyEntries(recipient, 0, size, recipient.size())
	}

	recipient.setSize(recipient.size() + size)
	recipient.setNextPageId(p.nextPageId())
	p.setSize(0)
}

func (p leafPage[K]) moveFirstToEndOf(recipient leafPage[K]) {
	key, value := p.keyAt(0), p.valueAt(0)
	p.removeAt(0)

	recipient.setEntry(recipient.size(), key, value)
	recipient.setSize(recipient.size() + 1)
}

func (p leafPage[K]) moveLastToFrontOf(recipient leafPage[K]) {
	last := p.size() - 1
	key, value := p.keyAt(last), p.valueAt(last)
	p.removeAt(last)

	recipient.shift(0, 1, recipient.entrySize())
	recipient.setEntry(0, key, value)
	recipient.setSize(recipient.size() + 1)
}
