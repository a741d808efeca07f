package index

import (
	"testing"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
	"github.com/stretchr/testify/assert"
)

func TestTreePages(t *testing.T) {
	codec := Int64Codec()

	t.Run("leaf keeps entries sorted", func(t *testing.T) {
		leaf := asLeafPage(make([]byte, disk.PAGE_SIZE), codec)
		leaf.init(7, disk.INVALID_PAGE_ID, 8)

		for _, k := range []int64{30, 10, 20, 40} {
			leaf.insert(k, util.NewRID(int32(k), uint32(k)))
		}

		assert.Equal(t, 4, leaf.size())
		assert.True(t, leaf.isLeafPage())
		assert.True(t, leaf.isRootPage())
		assert.Equal(t, disk.PageID(7), leaf.pageId())
		assert.Equal(t, disk.INVALID_PAGE_ID, leaf.nextPageId())
		assert.Equal(t, []int64{10, 20, 30, 40}, leafKeys(leaf))

		rid, ok := leaf.lookup(20)
		assert.True(t, ok)
		assert.Equal(t, util.NewRID(20, 20), rid)

		_, ok = leaf.lookup(25)
		assert.False(t, ok)
		assert.Equal(t, 2, leaf.keyIndex(25))

		assert.True(t, leaf.remove(10))
		assert.False(t, leaf.remove(10))
		assert.Equal(t, []int64{20, 30, 40}, leafKeys(leaf))
	})

	t.Run("leaf moves entries between siblings", func(t *testing.T) {
		left := asLeafPage(make([]byte, disk.PAGE_SIZE), codec)
		right := asLeafPage(make([]byte, disk.PAGE_SIZE), codec)
		left.init(1, 3, 4)
		right.init(2, 3, 4)
		left.setNextPageId(9)

		for _, k := range []int64{1, 2, 3, 4} {
			left.insert(k, util.NewRID(0, uint32(k)))
		}

		left.moveHalfTo(right)
		assert.Equal(t, []int64{1, 2}, leafKeys(left))
		assert.Equal(t, []int64{3, 4}, leafKeys(right))

		right.moveFirstToEndOf(left)
		assert.Equal(t, []int64{1, 2, 3}, leafKeys(left))
		assert.Equal(t, []int64{4}, leafKeys(right))

		left.moveLastToFrontOf(right)
		assert.Equal(t, []int64{3, 4}, leafKeys(right))
		assert.Equal(t, util.NewRID(0, 3), right.valueAt(0))

		right.setNextPageId(11)
		right.moveAllTo(left)
		assert.Equal(t, []int64{1, 2, 3, 4}, leafKeys(left))
		assert.Equal(t, 0, right.size())
		assert.Equal(t, disk.PageID(11), left.nextPageId())
	})

	t.Run("internal routes keys to children", func(t *testing.T) {
		page := asInternalPage(make([]byte, disk.PAGE_SIZE), codec)
		page.init(5, disk.INVALID_PAGE_ID, 4)
		page.populateNewRoot(100, 30, 101)
		page.insertNodeAfter(101, 50, 102)
		page.insertNodeAfter(100, 20, 103)

		assert.Equal(t, 4, page.size())
		assert.Equal(t, disk.PageID(100), page.lookup(5))
		assert.Equal(t, disk.PageID(103), page.lookup(20))
		assert.Equal(t, disk.PageID(103), page.lookup(29))
		assert.Equal(t, disk.PageID(101), page.lookup(30))
		assert.Equal(t, disk.PageID(102), page.lookup(99))
		assert.Equal(t, 2, page.valueIndex(101))
		assert.Equal(t, -1, page.valueIndex(7))
	})

	t.Run("internal split and merge carry separators", func(t *testing.T) {
		page := asInternalPage(make([]byte, disk.PAGE_SIZE), codec)
		sibling := asInternalPage(make([]byte, disk.PAGE_SIZE), codec)
		page.init(1, disk.INVALID_PAGE_ID, 4)
		sibling.init(2, disk.INVALID_PAGE_ID, 4)

		page.populateNewRoot(10, 1, 11)
		page.insertNodeAfter(11, 2, 12)
		page.insertNodeAfter(12, 3, 13)
		page.insertNodeAfter(13, 4, 14)

		separator, moved := page.moveHalfTo(sibling)
		assert.Equal(t, int64(3), separator)
		assert.Equal(t, []disk.PageID{13, 14}, moved)
		assert.Equal(t, 3, page.size())
		assert.Equal(t, int64(4), sibling.keyAt(1))

		child, newSeparator := sibling.moveFirstToEndOf(page, separator)
		assert.Equal(t, disk.PageID(13), child)
		assert.Equal(t, int64(4), newSeparator)
		assert.Equal(t, int64(3), page.keyAt(3))
		assert.Equal(t, 1, sibling.size())

		child, newSeparator = page.moveLastToFrontOf(sibling, newSeparator)
		assert.Equal(t, disk.PageID(13), child)
		assert.Equal(t, int64(3), newSeparator)
		assert.Equal(t, disk.PageID(13), sibling.valueAt(0))
		assert.Equal(t, int64(4), sibling.keyAt(1))

		moved = sibling.moveAllTo(page, newSeparator)
		assert.Equal(t, []disk.PageID{13, 14}, moved)
		assert.Equal(t, 5, page.size())
		assert.Equal(t, int64(3), page.keyAt(3))
		assert.Equal(t, int64(4), page.keyAt(4))

		page.remove(4)
		page.remove(3)
		page.remove(2)
		assert.Equal(t, 2, page.size())
		page.remove(1)
		assert.Equal(t, disk.PageID(10), page.removeAndReturnOnlyChild())
	})

	t.Run("accessors are bounds checked", func(t *testing.T) {
		leaf := asLeafPage(make([]byte, disk.PAGE_SIZE), codec)
		leaf.init(1, disk.INVALID_PAGE_ID, 4)

		assert.Panics(t, func() { leaf.keyAt(0) })
		assert.Panics(t, func() { leaf.setEntry(leafCapacity(codec.Size), 1, util.RID{}) })
		assert.Panics(t, func() { asTreePage(make([]byte, 4)) })
	})

	t.Run("min sizes", func(t *testing.T) {
		leaf := asLeafPage(make([]byte, disk.PAGE_SIZE), codec)
		leaf.init(1, disk.INVALID_PAGE_ID, 5)
		internal := asInternalPage(make([]byte, disk.PAGE_SIZE), codec)
		internal.init(2, disk.INVALID_PAGE_ID, 5)

		assert.Equal(t, 2, leaf.minSize())
		assert.Equal(t, 3, internal.minSize())
	})
}

func TestKeyCodecs(t *testing.T) {
	t.Run("generic keys order like their integers", func(t *testing.T) {
		codec := GenericKeyCodec(16)
		values := []int64{-500, -1, 0, 1, 42, 1 << 40}

		for i := 1; i < len(values); i++ {
			a := GenericKeyFromInt64(16, values[i-1])
			b := GenericKeyFromInt64(16, values[i])
			assert.Equal(t, -1, codec.Compare(a, b))
		}
	})

	t.Run("generic keys are padded and copied", func(t *testing.T) {
		codec := GenericKeyCodec(4)
		buf := make([]byte, 4)

		codec.Encode(buf, NewGenericKey(4, []byte("ab")))
		decoded := codec.Decode(buf)
		buf[0] = 'z'

		assert.Equal(t, GenericKey("ab\x00\x00"), decoded)
		assert.Equal(t, GenericKey("abcd"), NewGenericKey(4, []byte("abcdef")))
	})
}

func leafKeys(leaf leafPage[int64]) []int64 {
	keys := []int64{}
	for i := range leaf.size() {
		keys = append(keys, leaf.keyAt(i))
	}
	return keys
}
