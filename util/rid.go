package util

import (
	"encoding/binary"
	"fmt"
)

const RID_SIZE = 8

// RID identifies a tuple by the page holding it and its slot within that page.
type RID struct {
	PageId  int32
	SlotNum uint32
}

func NewRID(pageId int32, slot uint32) RID {
	return RID{PageId: pageId, SlotNum: slot}
}

func (r RID) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(r.PageId))
	binary.LittleEndian.PutUint32(dst[4:8], r.SlotNum)
}

func DecodeRID(src []byte) RID {
	return RID{
		PageId:  int32(binary.LittleEndian.Uint32(src[0:4])),
		SlotNum: binary.LittleEndian.Uint32(src[4:8]),
	}
}

func (r RID) String() string {
	return fmt.Sprintf("(%d, %d)", r.PageId, r.SlotNum)
}
