package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hgl71964/cmu-15445-databases/storage/disk"
	"github.com/hgl71964/cmu-15445-databases/util"
)

const recordCountSize = 4

// HeaderPage maps index names to root page ids. It lives in page 0 as a
// record count followed by a msgpack encoded map.
type HeaderPage struct {
	data []byte
}

func NewHeaderPage(data []byte) HeaderPage {
	return HeaderPage{data: data}
}

func (h HeaderPage) RecordCount() int {
	return int(binary.LittleEndian.Uint32(h.data))
}

func (h HeaderPage) GetRootId(name string) (disk.PageID, bool, error) {
	records, err := h.records()
	if err != nil {
		return disk.INVALID_PAGE_ID, false, err
	}

	root, ok := records[name]
	if !ok {
		return disk.INVALID_PAGE_ID, false, nil
	}
	return disk.PageID(root), true, nil
}

// InsertRecord adds name and returns false if it is already recorded. The
// record only goes in when every root id could later grow to its widest
// encoding, so UpdateRecord never runs out of room.
func (h HeaderPage) InsertRecord(name string, root disk.PageID) (bool, error) {
	records, err := h.records()
	if err != nil {
		return false, err
	}
	if _, ok := records[name]; ok {
		return false, nil
	}

	records[name] = int32(root)
	if err := h.checkCapacity(records); err != nil {
		return false, err
	}
	return true, h.store(records)
}

// UpdateRecord changes the root of name and returns false if it is unknown.
func (h HeaderPage) UpdateRecord(name string, root disk.PageID) (bool, error) {
	records, err := h.records()
	if err != nil {
		return false, err
	}
	if _, ok := records[name]; !ok {
		return false, nil
	}

	records[name] = int32(root)
	return true, h.store(records)
}

func (h HeaderPage) DeleteRecord(name string) (bool, error) {
	records, err := h.records()
	if err != nil {
		return false, err
	}
	if _, ok := records[name]; !ok {
		return false, nil
	}

	delete(records, name)
	return true, h.store(records)
}

func (h HeaderPage) records() (map[string]int32, error) {
	if h.RecordCount() == 0 {
		return map[string]int32{}, nil
	}

	records, err := util.ToStruct[map[string]int32](h.data[recordCountSize:])
	if err != nil {
		return nil, fmt.Errorf("decoding header page: %w", err)
	}
	return records, nil
}

func (h HeaderPage) checkCapacity(records map[string]int32) error {
	widest := make(map[string]int32, len(records))
	for name := range records {
		widest[name] = math.MinInt32
	}

	if _, err := util.ToByteSlice(widest, len(h.data)-recordCountSize); err != nil {
		return fmt.Errorf("%w: %v", util.ErrHeaderPageFull, err)
	}
	return nil
}

func (h HeaderPage) store(records map[string]int32) error {
	data, err := util.ToByteSlice(records, len(h.data)-recordCountSize)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrHeaderPageFull, err)
	}

	binary.LittleEndian.PutUint32(h.data, uint32(len(records)))
	copy(h.data[recordCountSize:], data)
	return nil
}
