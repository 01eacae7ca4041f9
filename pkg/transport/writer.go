package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/srediag/shmcopy/pkg/shm"
)

// WriteTo runs the Writer side: it announces itself to the Reader and copies
// every published slot into dst, in slot order, until the Reader marks the
// stream finished and both slots are drained.
func (p *Pipeline) WriteTo(ctx context.Context, dst io.Writer) (rep Report, err error) {
	rep.Role = shm.RoleWriter
	start := time.Now()
	defer func() {
		rep.General = time.Since(start)
		p.cfg.Metrics.observeSession(shm.RoleWriter, err)
	}()

	p.cb.PeerLock()
	p.cb.PeerBroadcast()
	p.cb.PeerUnlock()
	if rs := p.cb.ReaderStart(); !rs.IsZero() && start.After(rs) {
		rep.PeerWait = start.Sub(rs)
	}
	p.cfg.Metrics.observeWait(shm.RoleWriter, phasePeer, rep.PeerWait)

	workStart := time.Now()
	defer func() { rep.Work = time.Since(workStart) }()
	for i := 0; ; i++ {
		slot := p.cb.Slot(i)
		slot.Lock()
		stalled, werr := p.awaitSlot(ctx, slot, p.cb.ReaderPID, func() bool {
			return slot.Ready() || p.cb.Finished()
		})
		rep.Stalled += stalled
		p.cfg.Metrics.observeWait(shm.RoleWriter, phaseSlot, stalled)
		if werr != nil {
			return rep, p.fail(slot, werr)
		}

		if !slot.Ready() {
			slot.Unlock()
			// Finished with this slot empty. The other slot must be drained too.
			next := p.cb.Slot(i + 1)
			next.Lock()
			pending := next.Ready()
			next.Unlock()
			if pending {
				p.log.Warnf("slot %d still holds data after finish, draining it", (i+1)%shm.SlotCount)
				continue
			}
			return rep, nil
		}

		payload := slot.Payload()
		if _, werr := dst.Write(payload); werr != nil {
			return rep, p.fail(slot, fmt.Errorf("write destination: %w", werr))
		}
		n := len(payload)
		slot.Consume()
		slot.Broadcast()
		slot.Unlock()

		rep.Bytes += int64(n)
		rep.Handoffs++
		p.cfg.Metrics.observeHandoff(shm.RoleWriter, i%shm.SlotCount, n)
		p.cfg.Progress.Offer(Progress{Role: shm.RoleWriter, Slot: i % shm.SlotCount, Bytes: n, Total: rep.Bytes})
	}
}
