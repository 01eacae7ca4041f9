package transport

import (
	"context"
	"errors"
	"time"

	"github.com/srediag/shmcopy/internal/health"
	"github.com/srediag/shmcopy/pkg/shm"
)

// awaitSlot waits on slot until done reports true. The caller holds the slot
// lock; it is held again when awaitSlot returns. Each poll re-checks the abort
// flag, ctx and whether the peer is still running, in that order.
func (p *Pipeline) awaitSlot(ctx context.Context, slot *shm.Slot, peerPID func() uint32, done func() bool) (time.Duration, error) {
	start := time.Now()
	for {
		if p.cb.Aborted() != shm.AbortNone {
			return time.Since(start), ErrPeerAborted
		}
		if done() {
			return time.Since(start), nil
		}
		if err := ctx.Err(); err != nil {
			return time.Since(start), err
		}
		if !health.ProcessAlive(peerPID()) {
			return time.Since(start), ErrPeerGone
		}
		slot.Wait(p.cfg.PollInterval)
	}
}

// fail unlocks slot and aborts the transfer with the reason matching err.
func (p *Pipeline) fail(slot *shm.Slot, err error) error {
	slot.Unlock()
	switch {
	case errors.Is(err, ErrPeerAborted):
		// Already aborted by the peer.
	case errors.Is(err, ErrPeerGone):
		Abort(p.cb, shm.AbortPeerGone)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		Abort(p.cb, shm.AbortTerminated)
	default:
		Abort(p.cb, shm.AbortIO)
	}
	return err
}
