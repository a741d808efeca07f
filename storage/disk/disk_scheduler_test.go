package disk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDiskScheduler(t *testing.T) {
	t.Run("schedule is non blocking", func(t *testing.T) {
		ds := newTestScheduler(t)

		data := make([]byte, PAGE_SIZE)
		copy(data, []byte("hello world"))
		writeReq := NewRequest(1, data, true)

		start := time.Now()
		respCh := ds.Schedule(writeReq)
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 10*time.Millisecond)
		assert.True(t, (<-respCh).Success)
	})

	t.Run("can schedule read and write requests", func(t *testing.T) {
		ds := newTestScheduler(t)

		data := make([]byte, PAGE_SIZE)
		copy(data, []byte("hello world"))

		writeReq := NewRequest(1, data, true)
		readReq := NewRequest(1, nil, false)

		ds.Schedule(writeReq)
		ds.Schedule(readReq)

		assert.True(t, (<-writeReq.RespCh).Success)
		res := <-readReq.RespCh
		assert.True(t, res.Success)
		assert.Equal(t, data, res.Data)
	})

	t.Run("requests for one page run in arrival order", func(t *testing.T) {
		ds := newTestScheduler(t)

		var writes []DiskReq
		for i := range 20 {
			data := make([]byte, PAGE_SIZE)
			copy(data, fmt.Sprintf("version %d", i))
			req := NewRequest(3, data, true)
			writes = append(writes, req)
			ds.Schedule(req)
		}
		for _, req := range writes {
			<-req.RespCh
		}

		buf := make([]byte, PAGE_SIZE)
		require.NoError(t, ds.ReadPage(3, buf))
		assert.Equal(t, writes[len(writes)-1].Data, buf)
	})

	t.Run("concurrent synchronous requests on different pages", func(t *testing.T) {
		ds := newTestScheduler(t)

		var g errgroup.Group
		for i := range 8 {
			pageId := PageID(i + 1)
			g.Go(func() error {
				data := make([]byte, PAGE_SIZE)
				copy(data, fmt.Sprintf("page %d", pageId))
				if err := ds.WritePage(pageId, data); err != nil {
					return err
				}

				buf := make([]byte, PAGE_SIZE)
				if err := ds.ReadPage(pageId, buf); err != nil {
					return err
				}
				if string(buf[:len(fmt.Sprintf("page %d", pageId))]) != fmt.Sprintf("page %d", pageId) {
					return fmt.Errorf("page %d read back wrong data", pageId)
				}
				return nil
			})
		}
		assert.NoError(t, g.Wait())
	})

	t.Run("failed writes are reported", func(t *testing.T) {
		ds := newTestScheduler(t)

		err := ds.WritePage(1, make([]byte, 3))
		assert.Error(t, err)
	})
}

func newTestScheduler(t *testing.T) *DiskScheduler {
	t.Helper()

	dm, err := NewManager(CreateDbFile(t))
	require.NoError(t, err)

	ds := NewScheduler(dm)
	t.Cleanup(ds.Shutdown)
	return ds
}
