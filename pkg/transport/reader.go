package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/srediag/shmcopy/pkg/shm"
)

// ReadFrom runs the Reader side: it waits for a Writer to attach, then copies
// src into the slots until src is exhausted and marks the stream finished.
//
// If no Writer attaches within the peer timeout it marks the segment aborted
// and returns ErrPeerTimeout without reading anything.
func (p *Pipeline) ReadFrom(ctx context.Context, src io.Reader) (rep Report, err error) {
	rep.Role = shm.RoleReader
	start := time.Now()
	defer func() {
		rep.General = time.Since(start)
		p.cfg.Metrics.observeSession(shm.RoleReader, err)
	}()

	waited, err := p.awaitWriter(ctx)
	rep.PeerWait = waited
	p.cfg.Metrics.observeWait(shm.RoleReader, phasePeer, waited)
	if err != nil {
		return rep, err
	}
	p.log.Infof("writer attached after %s, streaming", waited)

	workStart := time.Now()
	defer func() { rep.Work = time.Since(workStart) }()
	for i := 0; ; i++ {
		slot := p.cb.Slot(i)
		slot.Lock()
		stalled, werr := p.awaitSlot(ctx, slot, p.cb.WriterPID, func() bool { return !slot.Ready() })
		rep.Stalled += stalled
		p.cfg.Metrics.observeWait(shm.RoleReader, phaseSlot, stalled)
		if werr != nil {
			return rep, p.fail(slot, werr)
		}

		n, rerr := io.ReadFull(src, slot.Buffer())
		switch {
		case rerr == nil, errors.Is(rerr, io.ErrUnexpectedEOF):
		case errors.Is(rerr, io.EOF):
			// Nothing left; n is 0.
			slot.Unlock()
			p.finish()
			return rep, nil
		default:
			return rep, p.fail(slot, fmt.Errorf("read source: %w", rerr))
		}
		slot.Publish(n)
		slot.Broadcast()
		slot.Unlock()

		rep.Bytes += int64(n)
		rep.Handoffs++
		p.cfg.Metrics.observeHandoff(shm.RoleReader, i%shm.SlotCount, n)
		p.cfg.Progress.Offer(Progress{Role: shm.RoleReader, Slot: i % shm.SlotCount, Bytes: n, Total: rep.Bytes})

		if n < shm.SlotCapacity {
			p.finish()
			return rep, nil
		}
	}
}

// awaitWriter records the Reader start time and waits until a second process
// has attached. A Writer that attached, aborted and detached before the
// Reader looked still counts: the attach sequence never goes down and the
// abort flag is checked on every wake-up.
func (p *Pipeline) awaitWriter(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	p.cb.SetReaderStart(start)
	deadline := start.Add(p.cfg.PeerTimeout)
	p.log.Infof("waiting for writer")

	p.cb.PeerLock()
	for p.cb.AttachSeq() < 2 {
		if p.cb.Aborted() != shm.AbortNone {
			break
		}
		if err := ctx.Err(); err != nil {
			p.cb.PeerUnlock()
			Abort(p.cb, shm.AbortTerminated)
			return time.Since(start), err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.cb.PeerUnlock()
			Abort(p.cb, shm.AbortPeerTimeout)
			p.log.Infof("timed out waiting for the writer to start, nothing to do")
			return time.Since(start), ErrPeerTimeout
		}
		p.cb.PeerWait(min(remaining, p.cfg.PollInterval))
	}
	p.cb.PeerUnlock()
	if reason := p.cb.Aborted(); reason != shm.AbortNone {
		p.log.Warnf("writer aborted before streaming started: %s", reason)
		return time.Since(start), ErrPeerAborted
	}
	return time.Since(start), nil
}

// finish marks the stream exhausted and wakes a Writer parked on either slot.
func (p *Pipeline) finish() {
	p.cb.LockSlots()
	p.cb.MarkFinished()
	for i := 0; i < shm.SlotCount; i++ {
		p.cb.Slot(i).Broadcast()
	}
	p.cb.UnlockSlots()
}
