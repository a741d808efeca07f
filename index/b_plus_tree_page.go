package index

import (
	"encoding/binary"
	"fmt"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
)

type PAGE_TYPE = uint32

const (
	INVALID_PAGE PAGE_TYPE = iota
	INTERNAL_PAGE
	LEAF_PAGE
)

// Header layout shared by both page kinds, little endian:
//
//	| page type (4) | size (4) | max size (4) | parent id (4) | page id (4) | next leaf id (4) |
//
// Internal pages leave the next leaf id unused.
const (
	pageTypeOffset = 0
	sizeOffset     = 4
	maxSizeOffset  = 8
	parentOffset   = 12
	pageIdOffset   = 16
	nextPageOffset = 20
	HEADER_SIZE    = 24
)

// bplusTreePage is a view over the header of a tree page held in a frame.
type bplusTreePage struct {
	data []byte
}

func asTreePage(data []byte) bplusTreePage {
	if len(data) < HEADER_SIZE {
		panic(fmt.Sprintf("tree page needs %d bytes, frame has %d", HEADER_SIZE, len(data)))
	}
	return bplusTreePage{data: data}
}

func (p bplusTreePage) pageType() PAGE_TYPE {
	return binary.LittleEndian.Uint32(p.data[pageTypeOffset:])
}

func (p bplusTreePage) setPageType(t PAGE_TYPE) {
	binary.LittleEndian.PutUint32(p.data[pageTypeOffset:], t)
}

func (p bplusTreePage) isLeafPage() bool {
	return p.pageType() == LEAF_PAGE
}

func (p bplusTreePage) isRootPage() bool {
	return p.parentPageId() == disk.INVALID_PAGE_ID
}

func (p bplusTreePage) size() int {
	return int(int32(binary.LittleEndian.Uint32(p.data[sizeOffset:])))
}

func (p bplusTreePage) setSize(size int) {
	binary.LittleEndian.PutUint32(p.data[sizeOffset:], uint32(int32(size)))
}

func (p bplusTreePage) maxSize() int {
	return int(int32(binary.LittleEndian.Uint32(p.data[maxSizeOffset:])))
}

func (p bplusTreePage) setMaxSize(size int) {
	binary.LittleEndian.PutUint32(p.data[maxSizeOffset:], uint32(int32(size)))
}

// minSize is the occupancy a non-root page must keep. Leaves split as soon
// as they fill, so they use the floor; internal pages use the ceiling.
func (p bplusTreePage) minSize() int {
	if p.isLeafPage() {
		return p.maxSize() / 2
	}
	return (p.maxSize() + 1) / 2
}

func (p bplusTreePage) parentPageId() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(p.data[parentOffset:])))
}

func (p bplusTreePage) setParentPageId(id disk.PageID) {
	binary.LittleEndian.PutUint32(p.data[parentOffset:], uint32(id))
}

func (p bplusTreePage) pageId() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(p.data[pageIdOffset:])))
}

func (p bplusTreePage) setPageId(id disk.PageID) {
	binary.LittleEndian.PutUint32(p.data[pageIdOffset:], uint32(id))
}

func (p bplusTreePage) init(pageType PAGE_TYPE, pageId, parentId disk.PageID, maxSize int) {
	clear(p.data)
	p.setPageType(pageType)
	p.setPageId(pageId)
	p.setParentPageId(parentId)
	p.setMaxSize(maxSize)
	p.setSize(0)
}

// entryOffset bounds-checks slot idx against the page's physical capacity.
func (p bplusTreePage) entryOffset(idx, entrySize int) int {
	capacity := (len(p.data) - HEADER_SIZE) / entrySize
	if idx < 0 || idx >= capacity {
		panic(fmt.Sprintf("slot %d out of bounds for page %d with capacity %d", idx, p.pageId(), capacity))
	}
	return HEADER_SIZE + idx*entrySize
}

func (p bplusTreePage) checkSlot(idx int) {
	if idx < 0 || idx >= p.size() {
		panic(fmt.Sprintf("slot %d out of bounds for page %d of size %d", idx, p.pageId(), p.size()))
	}
}

// shift moves slots [from, size) by delta slots, right when delta > 0.
func (p bplusTreePage) shift(from, delta, entrySize int) {
	size := p.size()
	if from >= size {
		return
	}

	src := p.data[p.entryOffset(from, entrySize) : p.entryOffset(size-1, entrySize)+entrySize]
	dst := p.entryOffset(from+delta, entrySize)
	p.entryOffset(size-1+delta, entrySize)
	copy(p.data[dst:], src)
}

func leafCapacity(keySize int) int {
	return (disk.PAGE_SIZE - HEADER_SIZE) / (keySize + ridSize)
}

func internalCapacity(keySize int) int {
	return (disk.PAGE_SIZE - HEADER_SIZE) / (keySize + childIdSize)
}
