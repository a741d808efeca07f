package index

import (
	"bytes"
	"cmp"
	"encoding/binary"
)

// KeyCodec describes a fixed-width key type stored in tree pages.
type KeyCodec[K any] struct {
	Size    int
	Encode  func(dst []byte, key K)
	Decode  func(src []byte) K
	Compare func(a, b K) int
}

func Int64Codec() KeyCodec[int64] {
	return KeyCodec[int64]{
		Size: 8,
		Encode: func(dst []byte, key int64) {
			binary.LittleEndian.PutUint64(dst, uint64(key))
		},
		Decode: func(src []byte) int64 {
			return int64(binary.LittleEndian.Uint64(src))
		},
		Compare: cmp.Compare[int64],
	}
}

// GenericKey is an opaque fixed-width key compared bytewise.
type GenericKey []byte

// NewGenericKey pads or truncates data to width bytes.
func NewGenericKey(width int, data []byte) GenericKey {
	key := make(GenericKey, width)
	copy(key, data)
	return key
}

// GenericKeyFromInt64 encodes v so that bytewise order matches numeric order.
func GenericKeyFromInt64(width int, v int64) GenericKey {
	key := make(GenericKey, width)
	binary.BigEndian.PutUint64(key, uint64(v)^(1<<63))
	return key
}

func GenericKeyCodec(width int) KeyCodec[GenericKey] {
	return KeyCodec[GenericKey]{
		Size: width,
		Encode: func(dst []byte, key GenericKey) {
			n := copy(dst[:width], key)
			clear(dst[n:width])
		},
		Decode: func(src []byte) GenericKey {
			return bytes.Clone(src[:width])
		},
		Compare: func(a, b GenericKey) int {
			return bytes.Compare(a, b)
		},
	}
}
