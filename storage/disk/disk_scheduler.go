package disk

import (
	"fmt"
	"sync"
)

func NewScheduler(diskManager *Manager) *DiskScheduler {
	ds := &DiskScheduler{
		reqCh:       make(chan DiskReq, 100),
		pageQueue:   make(map[PageID][]DiskReq),
		diskManager: diskManager,
	}

	ds.wg.Add(1)
	go ds.handleDiskReq()
	return ds
}

func NewRequest(pageId PageID, data []byte, isWrite bool) DiskReq {
	return DiskReq{
		PageId: pageId,
		Data:   data,
		Write:  isWrite,
		RespCh: make(chan DiskResp, 1),
	}
}

func (ds *DiskScheduler) Schedule(req DiskReq) <-chan DiskResp {
	ds.reqCh <- req
	return req.RespCh
}

// ReadPage schedules a read into buf and blocks until it completes.
func (ds *DiskScheduler) ReadPage(pageId PageID, buf []byte) error {
	resp := <-ds.Schedule(NewRequest(pageId, buf, false))
	if !resp.Success {
		return fmt.Errorf("error reading page %d: %w", pageId, resp.Err)
	}
	return nil
}

// WritePage schedules a write of data and blocks until it is on disk.
func (ds *DiskScheduler) WritePage(pageId PageID, data []byte) error {
	resp := <-ds.Schedule(NewRequest(pageId, data, true))
	if !resp.Success {
		return fmt.Errorf("error writing page %d: %w", pageId, resp.Err)
	}
	return nil
}

func (ds *DiskScheduler) AllocatePage() (PageID, error) {
	return ds.diskManager.AllocatePage()
}

func (ds *DiskScheduler) DeallocatePage(pageId PageID) {
	ds.diskManager.DeallocatePage(pageId)
}

// Shutdown stops accepting requests and waits for queued ones to finish.
func (ds *DiskScheduler) Shutdown() {
	ds.closeOnce.Do(func() {
		close(ds.reqCh)
	})
	ds.wg.Wait()
}

func (ds *DiskScheduler) handleDiskReq() {
	defer ds.wg.Done()

	for req := range ds.reqCh {
		ds.pageQueueMu.Lock()
		queue, ok := ds.pageQueue[req.PageId]
		ds.pageQueue[req.PageId] = append(queue, req)
		ds.pageQueueMu.Unlock()

		// !ok means no worker owns this page's queue, start one
		if !ok {
			ds.wg.Add(1)
			go ds.pageWorker(req.PageId)
		}
	}
}

func (ds *DiskScheduler) pageWorker(pageId PageID) {
	defer ds.wg.Done()

	for {
		ds.pageQueueMu.Lock()
		queue := ds.pageQueue[pageId]
		if len(queue) == 0 {
			// done handling requests for this page
			delete(ds.pageQueue, pageId)
			ds.pageQueueMu.Unlock()
			return
		}
		req := queue[0]
		ds.pageQueue[pageId] = queue[1:]
		ds.pageQueueMu.Unlock()

		ds.process(req)
	}
}

func (ds *DiskScheduler) process(req DiskReq) {
	if req.Write {
		if err := ds.diskManager.WritePage(req.PageId, req.Data); err != nil {
			req.RespCh <- DiskResp{Success: false, Err: err}
		} else {
			req.RespCh <- DiskResp{Success: true}
		}
		return
	}

	buf := req.Data
	if buf == nil {
		buf = make([]byte, PAGE_SIZE)
	}
	if err := ds.diskManager.ReadPage(req.PageId, buf); err != nil {
		req.RespCh <- DiskResp{Success: false, Err: err}
	} else {
		req.RespCh <- DiskResp{Success: true, Data: buf}
	}
}

type DiskScheduler struct {
	reqCh       chan DiskReq
	diskManager *Manager
	wg          sync.WaitGroup
	closeOnce   sync.Once

	pageQueue   map[PageID][]DiskReq
	pageQueueMu sync.Mutex
}

type DiskReq struct {
	PageId PageID
	Data   []byte
	Write  bool
	RespCh chan DiskResp
}

type DiskResp struct {
	Success bool
	Data    []byte
	Err     error
}
