package shm

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// Mapped 64-bit words are accessed through these helpers so that the
// 8-byte alignment required on 32-bit platforms is checked at the call site
// instead of surfacing as a SIGBUS inside another process.

func word64(addr unsafe.Pointer) *uint64 {
	if uintptr(addr)%8 != 0 {
		panic("shm: misaligned 64-bit word in mapped region")
	}
	return (*uint64)(addr)
}

// LoadWord64 atomically loads the 64-bit word at addr.
func LoadWord64(addr unsafe.Pointer) uint64 {
	return atomic.LoadUint64(word64(addr))
}

// StoreWord64 atomically stores val at addr.
func StoreWord64(addr unsafe.Pointer, val uint64) {
	atomic.StoreUint64(word64(addr), val)
}

// LoadStamp reads a wall clock timestamp stored as Unix nanoseconds. A zero
// word yields the zero time.
func LoadStamp(addr unsafe.Pointer) time.Time {
	ns := int64(LoadWord64(addr))
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// StoreStamp stores t as Unix nanoseconds.
func StoreStamp(addr unsafe.Pointer, t time.Time) {
	StoreWord64(addr, uint64(t.UnixNano()))
}
