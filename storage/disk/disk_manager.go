package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
)

// NewManager opens a page store over file. Page 0 is reserved for the header
// page; ids handed out by AllocatePage start after the pages already present
// in the file.
func NewManager(file *os.File) (*Manager, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading db file info: %w", err)
	}

	pages := int(info.Size() / PAGE_SIZE)
	dm := &Manager{
		dbFile:       file,
		pageCapacity: max(pages, 1),
		nextPageId:   PageID(max(pages, 1)),
		freeSlots:    []PageID{},
	}

	if pages < 1 {
		if err := dm.resize(DEFAULT_PAGE_CAPACITY); err != nil {
			return nil, err
		}
	}

	return dm, nil
}

func (dm *Manager) AllocatePage() (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(dm.freeSlots) > 0 {
		pageId := dm.freeSlots[0]
		dm.freeSlots = dm.freeSlots[1:]

		return pageId, nil
	}

	pageId := dm.nextPageId
	if int(pageId)+1 > dm.pageCapacity {
		if err := dm.resize(dm.pageCapacity * 2); err != nil {
			return INVALID_PAGE_ID, err
		}
	}
	dm.nextPageId++

	return pageId, nil
}

// DeallocatePage hands pageId back for reuse. The header page is never reclaimed.
func (dm *Manager) DeallocatePage(pageId PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if pageId <= HEADER_PAGE_ID || pageId >= dm.nextPageId || slices.Contains(dm.freeSlots, pageId) {
		return
	}
	dm.freeSlots = append(dm.freeSlots, pageId)
}

func (dm *Manager) WritePage(pageId PageID, data []byte) error {
	if len(data) != PAGE_SIZE {
		return fmt.Errorf("page buffer is %d bytes, expected %d", len(data), PAGE_SIZE)
	}

	offset := int64(pageId) * PAGE_SIZE
	if _, err := dm.dbFile.WriteAt(data, offset); err != nil {
		return fmt.Errorf("error writing at offset %d: %w", offset, err)
	}

	return nil
}

// ReadPage fills buf with the content of pageId. Pages that were allocated but
// never written read back as zeroes.
func (dm *Manager) ReadPage(pageId PageID, buf []byte) error {
	if len(buf) != PAGE_SIZE {
		return fmt.Errorf("page buffer is %d bytes, expected %d", len(buf), PAGE_SIZE)
	}

	offset := int64(pageId) * PAGE_SIZE
	n, err := dm.dbFile.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			clear(buf[n:])
			return nil
		}
		return fmt.Errorf("error reading from offset %d: %w", offset, err)
	}

	return nil
}

func (dm *Manager) Sync() error {
	return dm.dbFile.Sync()
}

func (dm *Manager) Close() error {
	if err := dm.dbFile.Sync(); err != nil {
		return fmt.Errorf("error syncing db file: %w", err)
	}
	return dm.dbFile.Close()
}

func (dm *Manager) resize(capacity int) error {
	if err := dm.dbFile.Truncate(int64(capacity) * PAGE_SIZE); err != nil {
		return fmt.Errorf("error resizing db file: %w", err)
	}
	dm.pageCapacity = capacity
	return nil
}

type Manager struct {
	mu           sync.Mutex
	dbFile       *os.File
	nextPageId   PageID
	freeSlots    []PageID
	pageCapacity int
}
