package counterstore

import (
	"sync/atomic"
	"unsafe"
)

func atomicCAS32(word []byte, old, new uint32) bool {
	p := (*uint32)(unsafe.Pointer(&word[0]))
	return atomic.CompareAndSwapUint32(p, old, new)
}

func atomicStore32(word []byte, v uint32) {
	p := (*uint32)(unsafe.Pointer(&word[0]))
	atomic.StoreUint32(p, v)
}
