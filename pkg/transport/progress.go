package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/shmcopy/internal/logger"
	"github.com/srediag/shmcopy/pkg/shm"
)

// Progress is emitted after every slot hand-off.
type Progress struct {
	Role  shm.Role
	Slot  int
	Bytes int
	Total int64
}

// ProgressRing is a bounded buffer of Progress events. Offer never blocks:
// events are dropped while the ring is full. A nil *ProgressRing discards
// everything.
type ProgressRing struct {
	rb      *queue.RingBuffer
	dropped atomic.Uint64
}

// NewProgressRing creates a ring holding up to size events (rounded up to a
// power of two).
func NewProgressRing(size uint64) *ProgressRing {
	return &ProgressRing{rb: queue.NewRingBuffer(size)}
}

// Offer adds ev to the ring unless it is full or closed.
func (p *ProgressRing) Offer(ev Progress) {
	if p == nil {
		return
	}
	ok, err := p.rb.Offer(ev)
	if err != nil || !ok {
		p.dropped.Add(1)
	}
}

// Poll waits up to timeout for the next event. ok is false on timeout or
// after Close.
func (p *ProgressRing) Poll(timeout time.Duration) (ev Progress, ok bool) {
	item, err := p.rb.Poll(timeout)
	if err != nil {
		return Progress{}, false
	}
	return item.(Progress), true
}

// Len is the number of buffered events.
func (p *ProgressRing) Len() uint64 { return p.rb.Len() }

// Dropped is the number of events discarded because the ring was full.
func (p *ProgressRing) Dropped() uint64 { return p.dropped.Load() }

// Close disposes the ring and releases any Poll caller.
func (p *ProgressRing) Close() { p.rb.Dispose() }

// Report logs events at debug level, passing each one to onEvent when it is
// not nil, until ctx is done or the ring is closed. It is meant to run in its
// own goroutine.
func (p *ProgressRing) Report(ctx context.Context, log *logger.Logger, onEvent func(Progress)) {
	for ctx.Err() == nil {
		item, err := p.rb.Poll(100 * time.Millisecond)
		if errors.Is(err, queue.ErrDisposed) {
			return
		}
		if err != nil {
			continue
		}
		ev := item.(Progress)
		log.Debugf("%s slot %d: %d bytes (total %d)", ev.Role, ev.Slot, ev.Bytes, ev.Total)
		if onEvent != nil {
			onEvent(ev)
		}
	}
}
