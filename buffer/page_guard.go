package buffer

import (
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
)

// FetchPageRead pins the page and takes its read latch.
func (b *BufferpoolManager) FetchPageRead(pageId disk.PageID) (*ReadPageGuard, error) {
	page, err := b.FetchPage(pageId)
	if err != nil {
		return nil, err
	}

	page.RLatch()
	return NewReadPageGuard(page, b), nil
}

// TryFetchPageRead is FetchPageRead without blocking on the latch. It
// returns nil and false when a writer holds the page.
func (b *BufferpoolManager) TryFetchPageRead(pageId disk.PageID) (*ReadPageGuard, bool, error) {
	page, err := b.FetchPage(pageId)
	if err != nil {
		return nil, false, err
	}

	if !page.TryRLatch() {
		b.UnpinPage(pageId, false)
		return nil, false, nil
	}
	return NewReadPageGuard(page, b), true, nil
}

// FetchPageWrite pins the page and takes its write latch.
func (b *BufferpoolManager) FetchPageWrite(pageId disk.PageID) (*WritePageGuard, error) {
	page, err := b.FetchPage(pageId)
	if err != nil {
		return nil, err
	}

	page.WLatch()
	return NewWritePageGuard(page, b), nil
}

// NewPageGuarded allocates a page and returns it write latched.
func (b *BufferpoolManager) NewPageGuarded() (*WritePageGuard, error) {
	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	page.WLatch()
	guard := NewWritePageGuard(page, b)
	guard.dirty = true
	return guard, nil
}

func NewReadPageGuard(page *Page, bpm *BufferpoolManager) *ReadPageGuard {
	return &ReadPageGuard{
		PageGuard: PageGuard{
			page: page,
			bpm:  bpm,
		},
	}
}

func NewWritePageGuard(page *Page, bpm *BufferpoolManager) *WritePageGuard {
	return &WritePageGuard{
		PageGuard: PageGuard{
			page: page,
			bpm:  bpm,
		},
	}
}

// Drop releases the latch and the pin. Dropping twice is a no-op.
func (pg *ReadPageGuard) Drop() {
	if pg == nil || pg.page == nil {
		return
	}

	pageId := pg.page.GetPageId()
	pg.page.RUnlatch()
	pg.bpm.UnpinPage(pageId, false)
	pg.page = nil
}

// Drop releases the latch and the pin, marking the page dirty if it was
// written through this guard. Dropping twice is a no-op.
func (pg *WritePageGuard) Drop() {
	if pg == nil || pg.page == nil {
		return
	}

	pageId := pg.page.GetPageId()
	pg.page.WUnlatch()
	pg.bpm.UnpinPage(pageId, pg.dirty)
	pg.page = nil
}

func (pg *PageGuard) PageId() disk.PageID {
	return pg.page.GetPageId()
}

func (pg *PageGuard) GetData() []byte {
	return pg.page.GetData()
}

func (pg *WritePageGuard) GetDataMut() []byte {
	pg.dirty = true
	return pg.page.GetData()
}

func (pg *WritePageGuard) MarkDirty() {
	pg.dirty = true
}

type PageGuard struct {
	page  *Page
	bpm   *BufferpoolManager
	dirty bool
}

type ReadPageGuard struct {
	PageGuard
}

type WritePageGuard struct {
	PageGuard
}
