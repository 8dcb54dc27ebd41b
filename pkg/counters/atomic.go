package counters

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

func int32Ptr(buf []byte, off int) *int32 {
	_ = buf[off+3]
	return (*int32)(unsafe.Pointer(&buf[off]))
}

func int64Ptr(buf []byte, off int) *int64 {
	_ = buf[off+7]
	return (*int64)(unsafe.Pointer(&buf[off]))
}

func loadInt32(buf []byte, off int) int32 {
	return atomic.LoadInt32(int32Ptr(buf, off))
}

func storeInt32(buf []byte, off int, v int32) {
	atomic.StoreInt32(int32Ptr(buf, off), v)
}

func getInt32(buf []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(buf[off:]))
}

func putInt32(buf []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(v))
}

func getInt64(buf []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}

func putInt64(buf []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(buf[off:], uint64(v))
}

func loadInt64(buf []byte, off int) int64 {
	return atomic.LoadInt64(int64Ptr(buf, off))
}

func storeInt64(buf []byte, off int, v int64) {
	atomic.StoreInt64(int64Ptr(buf, off), v)
}
