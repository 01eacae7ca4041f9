package shm

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	internalshm "github.com/srediag/shmcopy/internal/shm"
)

const (
	// SlotCapacity is the size of each slot buffer. Both processes must be
	// built with the same value; the layout check rejects a mismatch.
	SlotCapacity = 64 << 10
	// SlotCount is the number of slots in the double buffer.
	SlotCount = 2

	layoutMagic   uint64 = 0x3159504f434d4853 // "SHMCOPY1" little-endian
	layoutVersion uint32 = 2
)

// SegmentSize is the exact byte size of every segment.
const SegmentSize = int(unsafe.Sizeof(ControlBlock{}))

// AbortReason records why a session stopped before the stream was exhausted.
type AbortReason uint32

const (
	AbortNone AbortReason = iota
	AbortTerminated
	AbortPeerTimeout
	AbortIO
	AbortPeerGone
)

func (r AbortReason) String() string {
	switch r {
	case AbortNone:
		return "none"
	case AbortTerminated:
		return "terminated"
	case AbortPeerTimeout:
		return "peer timeout"
	case AbortIO:
		return "i/o failure"
	case AbortPeerGone:
		return "peer gone"
	default:
		return fmt.Sprintf("AbortReason(%d)", uint32(r))
	}
}

// Slot is one half of the double buffer. ready, size and buf are only
// touched while holding mu.
type Slot struct {
	mu    Mutex
	cond  Cond
	ready uint32
	size  uint32
	buf   [SlotCapacity]byte
}

func (s *Slot) Lock()   { s.mu.Lock() }
func (s *Slot) Unlock() { s.mu.Unlock() }

// Wait blocks on the slot condition for at most d and reports whether it timed out.
// The caller holds the slot lock.
func (s *Slot) Wait(d time.Duration) bool {
	return s.cond.WaitTimeout(&s.mu, d)
}

// Broadcast wakes everything waiting on the slot.
func (s *Slot) Broadcast() {
	s.cond.Broadcast()
}

// Ready reports whether the slot holds bytes the consumer has not taken yet.
func (s *Slot) Ready() bool {
	return atomic.LoadUint32(&s.ready) != 0
}

// Buffer exposes the whole slot buffer for the producer to read into.
func (s *Slot) Buffer() []byte {
	return s.buf[:]
}

// Publish marks the first n bytes of the buffer as ready for the consumer.
func (s *Slot) Publish(n int) {
	atomic.StoreUint32(&s.size, uint32(n))
	atomic.StoreUint32(&s.ready, 1)
}

// Payload returns the bytes published by the producer.
func (s *Slot) Payload() []byte {
	return s.buf[:atomic.LoadUint32(&s.size)]
}

// Consume hands the slot back to the producer.
func (s *Slot) Consume() {
	atomic.StoreUint32(&s.size, 0)
	atomic.StoreUint32(&s.ready, 0)
}

// ControlBlock is the fixed layout placed at offset 0 of every segment.
// 64-bit fields come first so they stay 8-byte aligned on every arch.
type ControlBlock struct {
	magic       uint64
	readerStart int64
	version     uint32
	slotCap     uint32
	attach      int32
	finished    uint32
	aborted     uint32
	readerPID   uint32
	writerPID   uint32
	peerMu      Mutex
	peerCond    Cond
	attachSeq   uint32
	slots       [SlotCount]Slot
}

// initialize runs exactly once, in the creating process, while it holds the
// creation lock. The file is fresh from ftruncate so every other field is zero.
func (cb *ControlBlock) initialize() {
	atomic.StoreUint32(&cb.version, layoutVersion)
	atomic.StoreUint32(&cb.slotCap, SlotCapacity)
	internalshm.StoreWord64(unsafe.Pointer(&cb.magic), layoutMagic)
}

func (cb *ControlBlock) validate() error {
	if m := internalshm.LoadWord64(unsafe.Pointer(&cb.magic)); m != layoutMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrLayoutMismatch, m)
	}
	if v := atomic.LoadUint32(&cb.version); v != layoutVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrLayoutMismatch, v, layoutVersion)
	}
	if c := atomic.LoadUint32(&cb.slotCap); c != SlotCapacity {
		return fmt.Errorf("%w: slot capacity %d, want %d", ErrLayoutMismatch, c, SlotCapacity)
	}
	return nil
}

// attachInc registers one more attachment and returns its attach order.
// The order comes from attachSeq, which never goes down, so a process that
// attaches after an earlier one detached still gets a fresh order.
func (cb *ControlBlock) attachInc() int32 {
	atomic.AddInt32(&cb.attach, 1)
	return int32(atomic.AddUint32(&cb.attachSeq, 1))
}

// attachDec drops one attachment and returns how many remain.
func (cb *ControlBlock) attachDec() int32 { return atomic.AddInt32(&cb.attach, -1) }

// AttachSeq is the number of attachments ever made to the segment.
func (cb *ControlBlock) AttachSeq() int32 {
	return int32(atomic.LoadUint32(&cb.attachSeq))
}

// AttachCount is the number of processes currently attached.
func (cb *ControlBlock) AttachCount() int32 {
	return atomic.LoadInt32(&cb.attach)
}

// Slot returns slot i (0 or 1).
func (cb *ControlBlock) Slot(i int) *Slot {
	return &cb.slots[i%SlotCount]
}

// LockSlots takes both slot mutexes, always slot 0 first.
func (cb *ControlBlock) LockSlots() {
	cb.slots[0].Lock()
	cb.slots[1].Lock()
}

// UnlockSlots releases both slot mutexes in reverse order.
func (cb *ControlBlock) UnlockSlots() {
	cb.slots[1].Unlock()
	cb.slots[0].Unlock()
}

// Finished reports whether the producer has exhausted its source.
func (cb *ControlBlock) Finished() bool {
	return atomic.LoadUint32(&cb.finished) != 0
}

// MarkFinished sets the finished flag. The caller holds both slot locks.
func (cb *ControlBlock) MarkFinished() {
	atomic.StoreUint32(&cb.finished, 1)
}

// Aborted returns the first abort reason recorded, or AbortNone.
func (cb *ControlBlock) Aborted() AbortReason {
	return AbortReason(atomic.LoadUint32(&cb.aborted))
}

// MarkAborted records reason unless another reason was recorded first.
func (cb *ControlBlock) MarkAborted(reason AbortReason) {
	atomic.CompareAndSwapUint32(&cb.aborted, uint32(AbortNone), uint32(reason))
}

// ReaderStart is when the Reader began waiting for its peer.
func (cb *ControlBlock) ReaderStart() time.Time {
	return internalshm.LoadStamp(unsafe.Pointer(&cb.readerStart))
}

// SetReaderStart records the Reader start timestamp.
func (cb *ControlBlock) SetReaderStart(t time.Time) {
	internalshm.StoreStamp(unsafe.Pointer(&cb.readerStart), t)
}

func (cb *ControlBlock) ReaderPID() uint32 { return atomic.LoadUint32(&cb.readerPID) }
func (cb *ControlBlock) WriterPID() uint32 { return atomic.LoadUint32(&cb.writerPID) }

func (cb *ControlBlock) setPID(role Role, pid uint32) {
	switch role {
	case RoleReader:
		atomic.StoreUint32(&cb.readerPID, pid)
	case RoleWriter:
		atomic.StoreUint32(&cb.writerPID, pid)
	}
}

// PeerLock guards the peer-arrival rendezvous.
func (cb *ControlBlock) PeerLock()   { cb.peerMu.Lock() }
func (cb *ControlBlock) PeerUnlock() { cb.peerMu.Unlock() }

// PeerWait waits on the rendezvous condition for at most d. The caller holds PeerLock.
func (cb *ControlBlock) PeerWait(d time.Duration) bool {
	return cb.peerCond.WaitTimeout(&cb.peerMu, d)
}

// PeerBroadcast wakes a Reader waiting for its peer.
func (cb *ControlBlock) PeerBroadcast() {
	cb.peerCond.Broadcast()
}
