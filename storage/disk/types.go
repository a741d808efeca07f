package disk

type PageID int32

const (
	PAGE_SIZE             = 4096
	DEFAULT_PAGE_CAPACITY = 16

	INVALID_PAGE_ID PageID = -1
	HEADER_PAGE_ID  PageID = 0
)
