package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
)

// Page is one buffer pool frame. Its metadata is owned by the
// BufferpoolManager; callers only touch the bytes, under the page latch,
// while holding a pin.
type Page struct {
	latch  sync.RWMutex
	id     int
	data   []byte
	pins   atomic.Int32
	dirty  bool
	pageId disk.PageID
}

func newPage(frameId int) *Page {
	return &Page{
		id:     frameId,
		data:   make([]byte, disk.PAGE_SIZE),
		pageId: disk.INVALID_PAGE_ID,
	}
}

func (p *Page) GetData() []byte {
	return p.data
}

func (p *Page) GetPageId() disk.PageID {
	return p.pageId
}

func (p *Page) GetPinCount() int32 {
	return p.pins.Load()
}

func (p *Page) IsDirty() bool {
	return p.dirty
}

func (p *Page) RLatch()            { p.latch.RLock() }
func (p *Page) RUnlatch()          { p.latch.RUnlock() }
func (p *Page) WLatch()            { p.latch.Lock() }
func (p *Page) WUnlatch()          { p.latch.Unlock() }
func (p *Page) TryRLatch() bool    { return p.latch.TryRLock() }
func (p *Page) pin()               { p.pins.Add(1) }
func (p *Page) unpin() int32       { return p.pins.Add(-1) }
func (p *Page) setPins(pins int32) { p.pins.Store(pins) }

func (p *Page) reset() {
	p.dirty = false
	p.pins.Store(0)
	p.pageId = disk.INVALID_PAGE_ID
	clear(p.data)
}
