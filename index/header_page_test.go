package index

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderPage(t *testing.T) {
	t.Run("records roots by index name", func(t *testing.T) {
		header := NewHeaderPage(make([]byte, disk.PAGE_SIZE))

		_, ok, err := header.GetRootId("orders_pk")
		require.NoError(t, err)
		assert.False(t, ok)

		inserted, err := header.InsertRecord("orders_pk", 3)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = header.InsertRecord("orders_pk", 4)
		require.NoError(t, err)
		assert.False(t, inserted)

		updated, err := header.UpdateRecord("orders_pk", 9)
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = header.UpdateRecord("missing", 9)
		require.NoError(t, err)
		assert.False(t, updated)

		root, ok, err := header.GetRootId("orders_pk")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, disk.PageID(9), root)
		assert.Equal(t, 1, header.RecordCount())

		deleted, err := header.DeleteRecord("orders_pk")
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Equal(t, 0, header.RecordCount())

		deleted, err = header.DeleteRecord("orders_pk")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("reports a full page", func(t *testing.T) {
		header := NewHeaderPage(make([]byte, 64))

		var err error
		for i := 0; err == nil && i < 100; i++ {
			_, err = header.InsertRecord(fmt.Sprintf("index_with_a_long_name_%d", i), disk.PageID(i))
		}

		assert.True(t, errors.Is(err, util.ErrHeaderPageFull))
	})

	t.Run("updates fit once a record is in", func(t *testing.T) {
		header := NewHeaderPage(make([]byte, 64))

		var names []string
		for i := 0; ; i++ {
			name := fmt.Sprintf("idx%d", i)
			inserted, err := header.InsertRecord(name, 1)
			if err != nil {
				assert.True(t, errors.Is(err, util.ErrHeaderPageFull))
				break
			}
			require.True(t, inserted)
			names = append(names, name)
		}
		require.NotEmpty(t, names)
		assert.Equal(t, len(names), header.RecordCount())

		for _, name := range names {
			updated, err := header.UpdateRecord(name, math.MaxInt32)
			require.NoError(t, err)
			assert.True(t, updated)
		}

		root, ok, err := header.GetRootId(names[len(names)-1])
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, disk.PageID(math.MaxInt32), root)
	})
}
