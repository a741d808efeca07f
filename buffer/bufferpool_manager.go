package buffer

import (
	"fmt"
	"sync"

	"github.com/hgl71964/cmu-15445-databases/metrics"
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
	"go.uber.org/zap"
)

type Option func(*BufferpoolManager)

func WithLogger(logger *zap.Logger) Option {
	return func(b *BufferpoolManager) {
		if logger != nil {
			b.logger = logger.Named("bufferpool")
		}
	}
}

func WithMetrics(m *metrics.BufferPool) Option {
	return func(b *BufferpoolManager) {
		if m != nil {
			b.metrics = m
		}
	}
}

func NewBufferpoolManager(size int, replacer Replacer, diskScheduler *disk.DiskScheduler, opts ...Option) *BufferpoolManager {
	frames := make([]*Page, size)
	freeFrames := make([]int, size)

	for i := range size {
		frames[i] = newPage(i)
		freeFrames[i] = i
	}

	bpm := &BufferpoolManager{
		frames:        frames,
		pageTable:     make(map[disk.PageID]int, size),
		replacer:      replacer,
		diskScheduler: diskScheduler,
		freeFrames:    freeFrames,
		logger:        zap.NewNop(),
		metrics:       metrics.NewBufferPool(nil),
	}
	for _, opt := range opts {
		opt(bpm)
	}
	return bpm
}

// FetchPage pins the page and returns its frame, reading it from disk when
// it is not resident. The caller must UnpinPage it exactly once.
func (b *BufferpoolManager) FetchPage(pageId disk.PageID) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.pageTable[pageId]; ok {
		frame := b.frames[id]
		frame.pin()
		b.replacer.Pin(id)
		b.metrics.Hits.Inc()
		return frame, nil
	}

	b.metrics.Misses.Inc()
	frame, err := b.getFrame()
	if err != nil {
		return nil, err
	}

	if err := b.diskScheduler.ReadPage(pageId, frame.data); err != nil {
		frame.reset()
		b.freeFrames = append(b.freeFrames, frame.id)
		return nil, &util.StorageError{Message: fmt.Sprintf("reading page %d", pageId), Err: err}
	}

	b.install(frame, pageId)
	return frame, nil
}

// NewPage allocates a fresh page id and returns its zeroed frame pinned once.
func (b *BufferpoolManager) NewPage() (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frame, err := b.getFrame()
	if err != nil {
		return nil, err
	}

	pageId, err := b.diskScheduler.AllocatePage()
	if err != nil {
		frame.reset()
		b.freeFrames = append(b.freeFrames, frame.id)
		return nil, &util.StorageError{Message: "allocating page", Err: err}
	}

	// a recycled page id may still hold old bytes on disk
	clear(frame.data)
	b.install(frame, pageId)
	frame.dirty = true
	return frame, nil
}

// UnpinPage drops one pin. It returns false when the page is not resident
// or is not pinned.
func (b *BufferpoolManager) UnpinPage(pageId disk.PageID, isDirty bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false
	}

	frame := b.frames[id]
	if frame.GetPinCount() <= 0 {
		return false
	}

	if isDirty {
		frame.dirty = true
	}
	if frame.unpin() == 0 {
		b.replacer.Unpin(id)
	}
	return true
}

// DeletePage frees the page's frame and its disk slot. A pinned page is not
// deleted.
func (b *BufferpoolManager) DeletePage(pageId disk.PageID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		b.diskScheduler.DeallocatePage(pageId)
		return true, nil
	}

	frame := b.frames[id]
	if frame.GetPinCount() > 0 {
		return false, nil
	}

	if err := b.flush(frame); err != nil {
		return false, err
	}

	delete(b.pageTable, pageId)
	b.replacer.Remove(id)
	frame.reset()
	b.freeFrames = append(b.freeFrames, id)
	b.diskScheduler.DeallocatePage(pageId)

	b.logger.Debug("deleted page", zap.Int32("page_id", int32(pageId)), zap.Int("frame_id", id))
	return true, nil
}

// FlushPage writes the page back if it is resident and dirty. The result
// reports whether the page was resident.
func (b *BufferpoolManager) FlushPage(pageId disk.PageID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.pageTable[pageId]
	if !ok {
		return false, nil
	}

	if err := b.flush(b.frames[id]); err != nil {
		return false, err
	}
	return true, nil
}

func (b *BufferpoolManager) FlushAllPages() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pageId, id := range b.pageTable {
		if err := b.flush(b.frames[id]); err != nil {
			return fmt.Errorf("flushing page %d: %w", pageId, err)
		}
	}
	return nil
}

// ModifyPage applies fn to the page under its write latch without taking a
// frame. A resident page is edited in place and left dirty; any other page
// is read, edited and written back through the scheduler while the pool
// latch keeps it from being loaded. fn must not call back into the pool.
func (b *BufferpoolManager) ModifyPage(pageId disk.PageID, fn func(data []byte)) error {
	b.mu.Lock()
	if id, ok := b.pageTable[pageId]; ok {
		frame := b.frames[id]
		frame.pin()
		b.replacer.Pin(id)
		b.metrics.Hits.Inc()
		b.mu.Unlock()

		frame.WLatch()
		fn(frame.data)
		frame.WUnlatch()
		b.UnpinPage(pageId, true)
		return nil
	}
	defer b.mu.Unlock()

	data := make([]byte, disk.PAGE_SIZE)
	if err := b.diskScheduler.ReadPage(pageId, data); err != nil {
		return &util.StorageError{Message: fmt.Sprintf("reading page %d", pageId), Err: err}
	}
	fn(data)
	if err := b.diskScheduler.WritePage(pageId, data); err != nil {
		return &util.StorageError{Message: fmt.Sprintf("writing page %d", pageId), Err: err}
	}

	b.metrics.WriteBacks.Inc()
	return nil
}

func (b *BufferpoolManager) Size() int {
	return len(b.frames)
}

// getFrame takes a frame from the free list or evicts one, writing the
// victim back first when it is dirty. Called with b.mu held.
func (b *BufferpoolManager) getFrame() (*Page, error) {
	if len(b.freeFrames) > 0 {
		id := b.freeFrames[0]
		b.freeFrames = b.freeFrames[1:]
		return b.frames[id], nil
	}

	id, ok := b.replacer.Victim()
	if !ok {
		b.metrics.Exhausted.Inc()
		return nil, util.NewBufferpoolExhaustedError(fmt.Sprintf("all %d frames are pinned", len(b.frames)))
	}

	frame := b.frames[id]
	if mapped, ok := b.pageTable[frame.pageId]; !ok || mapped != id {
		panic(fmt.Sprintf("frame %d holds page %d which is not mapped to it", id, frame.pageId))
	}

	if err := b.flush(frame); err != nil {
		b.replacer.Unpin(id)
		return nil, err
	}

	b.logger.Debug("evicted page", zap.Int32("page_id", int32(frame.pageId)), zap.Int("frame_id", id))
	b.metrics.Evictions.Inc()
	delete(b.pageTable, frame.pageId)
	return frame, nil
}

func (b *BufferpoolManager) install(frame *Page, pageId disk.PageID) {
	frame.dirty = false
	frame.pageId = pageId
	frame.setPins(1)
	b.pageTable[pageId] = frame.id
	b.replacer.Pin(frame.id)
}

func (b *BufferpoolManager) flush(frame *Page) error {
	if !frame.dirty {
		return nil
	}

	if err := b.diskScheduler.WritePage(frame.pageId, frame.data); err != nil {
		b.logger.Warn("write back failed", zap.Int32("page_id", int32(frame.pageId)), zap.Error(err))
		return &util.StorageError{Message: fmt.Sprintf("writing page %d", frame.pageId), Err: err}
	}

	frame.dirty = false
	b.metrics.WriteBacks.Inc()
	return nil
}

type BufferpoolManager struct {
	mu            sync.Mutex
	frames        []*Page
	pageTable     map[disk.PageID]int
	diskScheduler *disk.DiskScheduler
	replacer      Replacer
	freeFrames    []int
	logger        *zap.Logger
	metrics       *metrics.BufferPool
}
