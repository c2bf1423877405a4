package dctl

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value encoding helpers for the leaf types dctl knows about. Leaves
// register a ReadFunc/WriteFunc closure that calls these rather than
// hand-rolling binary.LittleEndian calls at every registration site.

func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("dctl: want 4 bytes for uint32, got %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("dctl: want 8 bytes for uint64, got %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

func EncodeInt32(v int32) []byte {
	return EncodeUint32(uint32(v))
}

func DecodeInt32(b []byte) (int32, error) {
	u, err := DecodeUint32(b)
	return int32(u), err
}

func EncodeFloat64(v float64) []byte {
	return EncodeUint64(math.Float64bits(v))
}

func DecodeFloat64(b []byte) (float64, error) {
	u, err := DecodeUint64(b)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

func EncodeString(v string) []byte {
	return []byte(v)
}

func DecodeString(b []byte) string {
	return string(b)
}
