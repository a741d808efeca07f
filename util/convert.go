package util

import (
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// ToByteSlice encodes obj with msgpack into a buffer of exactly size bytes.
func ToByteSlice[T any](obj T, size int) ([]byte, error) {
	res := make([]byte, size)

	data, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, err
	}
	if len(data) > size {
		return nil, fmt.Errorf("encoded object is %d bytes, limit is %d", len(data), size)
	}
	copy(res, data)

	return res, nil
}

func ToStruct[T any](data []byte) (T, error) {
	var res T

	if err := msgpack.Unmarshal(data, &res); err != nil {
		return res, err
	}

	return res, nil
}
