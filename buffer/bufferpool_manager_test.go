package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/hgl71964/cmu-15445-databases/metrics"
	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func TestBufferPoolManager(t *testing.T) {
	t.Run("reads a page from disk", func(t *testing.T) {
		bufferMgr, diskScheduler := newTestBufferpool(t, 5, NewLRUReplacer(5))

		pageId, err := diskScheduler.AllocatePage()
		require.NoError(t, err)

		data := make([]byte, disk.PAGE_SIZE)
		copy(data, []byte("hello, world!"))
		require.NoError(t, diskScheduler.WritePage(pageId, data))

		page, err := bufferMgr.FetchPage(pageId)
		require.NoError(t, err)
		defer bufferMgr.UnpinPage(pageId, false)

		assert.Equal(t, data, page.GetData())
		assert.Equal(t, int32(1), page.GetPinCount())
		assert.Equal(t, pageId, page.GetPageId())
	})

	t.Run("fails once every frame is pinned", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 10, NewLRUReplacer(10))

		pageIds := make([]disk.PageID, 0, 10)
		for range 10 {
			page, err := bufferMgr.NewPage()
			require.NoError(t, err)
			assert.Equal(t, int32(1), page.GetPinCount())
			assert.Equal(t, make([]byte, disk.PAGE_SIZE), page.GetData())
			pageIds = append(pageIds, page.GetPageId())
		}

		_, err := bufferMgr.NewPage()
		assert.True(t, errors.Is(err, util.ErrBufferpoolExhausted))
		var exhausted *util.BufferpoolExhaustedError
		assert.ErrorAs(t, err, &exhausted)

		for _, pageId := range pageIds[:5] {
			assert.True(t, bufferMgr.UnpinPage(pageId, true))
		}
		for range 5 {
			page, err := bufferMgr.NewPage()
			require.NoError(t, err)
			assert.True(t, bufferMgr.UnpinPage(page.GetPageId(), false))
		}

		// the first five pages were evicted but survive on disk
		page, err := bufferMgr.FetchPage(pageIds[0])
		require.NoError(t, err)
		assert.Equal(t, pageIds[0], page.GetPageId())
		assert.True(t, bufferMgr.UnpinPage(pageIds[0], false))
	})

	t.Run("dirty evicted pages are written back", func(t *testing.T) {
		bufferMgr, diskScheduler := newTestBufferpool(t, 2, NewLRUReplacer(2))

		content := []string{"1", "2", "3"}
		pageIds := make([]disk.PageID, len(content))
		for i, d := range content {
			guard, err := bufferMgr.NewPageGuarded()
			require.NoError(t, err)
			copy(guard.GetDataMut(), d)
			pageIds[i] = guard.PageId()
			guard.Drop()
		}

		// page 1 should have been evicted and flushed to disk
		res := make([]byte, disk.PAGE_SIZE)
		require.NoError(t, diskScheduler.ReadPage(pageIds[0], res))
		assert.Equal(t, content[0], string(bytes.Trim(res, "\x00")))

		for i, d := range content {
			guard, err := bufferMgr.FetchPageRead(pageIds[i])
			require.NoError(t, err)
			assert.Equal(t, d, string(bytes.Trim(guard.GetData(), "\x00")))
			guard.Drop()
		}
	})

	t.Run("modifies pages without a free frame", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 2, NewLRUReplacer(2))

		page, err := bufferMgr.NewPage()
		require.NoError(t, err)
		evictedId := page.GetPageId()
		copy(page.GetData(), "ab")
		assert.True(t, bufferMgr.UnpinPage(evictedId, true))

		first, err := bufferMgr.NewPage()
		require.NoError(t, err)
		second, err := bufferMgr.NewPage()
		require.NoError(t, err)

		_, err = bufferMgr.FetchPage(evictedId)
		assert.True(t, errors.Is(err, util.ErrBufferpoolExhausted))

		require.NoError(t, bufferMgr.ModifyPage(evictedId, func(data []byte) {
			data[1] = 'c'
		}))
		require.NoError(t, bufferMgr.ModifyPage(first.GetPageId(), func(data []byte) {
			data[0] = 'x'
		}))
		assert.Equal(t, byte('x'), first.GetData()[0])
		assert.True(t, first.IsDirty())
		assert.Equal(t, int32(1), first.GetPinCount())

		assert.True(t, bufferMgr.UnpinPage(second.GetPageId(), false))
		page, err = bufferMgr.FetchPage(evictedId)
		require.NoError(t, err)
		assert.Equal(t, []byte("ac"), page.GetData()[:2])
		assert.True(t, bufferMgr.UnpinPage(evictedId, false))
		assert.True(t, bufferMgr.UnpinPage(first.GetPageId(), false))
	})

	t.Run("unpin reports unknown and unpinned pages", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 2, NewLRUReplacer(2))

		page, err := bufferMgr.NewPage()
		require.NoError(t, err)

		assert.False(t, bufferMgr.UnpinPage(disk.PageID(77), false))
		assert.True(t, bufferMgr.UnpinPage(page.GetPageId(), false))
		assert.False(t, bufferMgr.UnpinPage(page.GetPageId(), false))
	})

	t.Run("delete refuses pinned pages", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 2, NewLRUReplacer(2))

		page, err := bufferMgr.NewPage()
		require.NoError(t, err)
		pageId := page.GetPageId()

		ok, err := bufferMgr.DeletePage(pageId)
		require.NoError(t, err)
		assert.False(t, ok)

		bufferMgr.UnpinPage(pageId, false)
		ok, err = bufferMgr.DeletePage(pageId)
		require.NoError(t, err)
		assert.True(t, ok)

		_, resident := bufferMgr.pageTable[pageId]
		assert.False(t, resident)
		assert.Len(t, bufferMgr.freeFrames, 2)

		// deleting a page that is not resident only frees its slot
		ok, err = bufferMgr.DeletePage(disk.PageID(42))
		require.NoError(t, err)
		assert.True(t, ok)

		// the freed id is handed out again
		page, err = bufferMgr.NewPage()
		require.NoError(t, err)
		assert.Equal(t, pageId, page.GetPageId())
	})

	t.Run("flush clears the dirty flag", func(t *testing.T) {
		bufferMgr, diskScheduler := newTestBufferpool(t, 3, NewLRUReplacer(3))

		guard, err := bufferMgr.NewPageGuarded()
		require.NoError(t, err)
		pageId := guard.PageId()
		copy(guard.GetDataMut(), "hello")
		guard.Drop()

		frame := bufferMgr.frames[bufferMgr.pageTable[pageId]]
		assert.True(t, frame.IsDirty())

		ok, err := bufferMgr.FlushPage(pageId)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, frame.IsDirty())

		res := make([]byte, disk.PAGE_SIZE)
		require.NoError(t, diskScheduler.ReadPage(pageId, res))
		assert.Equal(t, "hello", string(bytes.Trim(res, "\x00")))

		ok, err = bufferMgr.FlushPage(disk.PageID(99))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, bufferMgr.FlushAllPages())
	})

	t.Run("records hits misses and evictions", func(t *testing.T) {
		file := CreateDbFile(t)
		diskMgr, err := disk.NewManager(file)
		require.NoError(t, err)
		diskScheduler := disk.NewScheduler(diskMgr)
		t.Cleanup(diskScheduler.Shutdown)

		m := metrics.NewBufferPool(nil)
		bufferMgr := NewBufferpoolManager(1, NewLrukReplacer(1, 2), diskScheduler,
			WithLogger(zaptest.NewLogger(t)), WithMetrics(m))

		first, err := bufferMgr.NewPage()
		require.NoError(t, err)
		firstId := first.GetPageId()
		bufferMgr.UnpinPage(firstId, false)

		_, err = bufferMgr.FetchPage(firstId)
		require.NoError(t, err)
		bufferMgr.UnpinPage(firstId, false)

		second, err := bufferMgr.NewPage()
		require.NoError(t, err)
		bufferMgr.UnpinPage(second.GetPageId(), false)

		_, err = bufferMgr.FetchPage(firstId)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Misses))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.Evictions))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.WriteBacks))
	})

	t.Run("guards are idempotent", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 2, NewLRUReplacer(2))

		guard, err := bufferMgr.NewPageGuarded()
		require.NoError(t, err)
		pageId := guard.PageId()
		guard.Drop()
		guard.Drop()

		frame := bufferMgr.frames[bufferMgr.pageTable[pageId]]
		assert.Equal(t, int32(0), frame.GetPinCount())

		read, err := bufferMgr.FetchPageRead(pageId)
		require.NoError(t, err)

		// a second reader shares the latch
		other, ok, err := bufferMgr.TryFetchPageRead(pageId)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int32(2), frame.GetPinCount())
		other.Drop()
		read.Drop()

		write, err := bufferMgr.FetchPageWrite(pageId)
		require.NoError(t, err)
		_, ok, err = bufferMgr.TryFetchPageRead(pageId)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int32(1), frame.GetPinCount())
		write.Drop()
	})

	t.Run("concurrent readers and writers", func(t *testing.T) {
		bufferMgr, _ := newTestBufferpool(t, 8, NewLrukReplacer(8, 2))

		pageIds := make([]disk.PageID, 16)
		for i := range pageIds {
			guard, err := bufferMgr.NewPageGuarded()
			require.NoError(t, err)
			pageIds[i] = guard.PageId()
			copy(guard.GetDataMut(), fmt.Sprintf("page-%d", i))
			guard.Drop()
		}

		var g errgroup.Group
		for worker := range 4 {
			g.Go(func() error {
				for round := range 50 {
					i := (worker + round) % len(pageIds)
					guard, err := bufferMgr.FetchPageRead(pageIds[i])
					if err != nil {
						return err
					}
					got := string(bytes.Trim(guard.GetData(), "\x00"))
					guard.Drop()
					if got != fmt.Sprintf("page-%d", i) {
						return fmt.Errorf("page %d holds %q", i, got)
					}
				}
				return nil
			})
		}
		assert.NoError(t, g.Wait())
	})
}

func newTestBufferpool(t *testing.T, size int, replacer Replacer) (*BufferpoolManager, *disk.DiskScheduler) {
	t.Helper()

	diskMgr, err := disk.NewManager(CreateDbFile(t))
	require.NoError(t, err)

	diskScheduler := disk.NewScheduler(diskMgr)
	t.Cleanup(diskScheduler.Shutdown)

	return NewBufferpoolManager(size, replacer, diskScheduler, WithLogger(zaptest.NewLogger(t))), diskScheduler
}

func CreateDbFile(t *testing.T) *os.File {
	t.Helper()
	dbFile := path.Join(t.TempDir(), "test.db")

	file, err := os.OpenFile(dbFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating db file\n%v", err))
	}
	t.Cleanup(func() {
		_ = file.Close()
	})

	// create 4kb file
	_ = os.Truncate(file.Name(), disk.PAGE_SIZE)
	return file
}
