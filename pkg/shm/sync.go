package shm

import (
	"errors"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/srediag/shmcopy/internal/health"
	internalshm "github.com/srediag/shmcopy/internal/shm"
)

const (
	mutexUnlocked uint32 = iota
	mutexLocked
	mutexContended
)

// lockProbeInterval bounds how long a contended Lock sleeps before checking
// whether the holder is still alive.
const lockProbeInterval = 100 * time.Millisecond

var selfPID = uint32(os.Getpid())

// Mutex is a futex-based mutex that lives in shared memory and can be locked
// from several processes. It must not be copied after first use.
//
// If the holder dies inside its critical section, a waiter takes the lock
// over after noticing the holder's pid is gone.
type Mutex struct {
	state uint32
	owner uint32
}

// Lock acquires m, blocking until it is available.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(&m.state, mutexUnlocked, mutexLocked) {
		atomic.StoreUint32(&m.owner, selfPID)
		return
	}
	for {
		if atomic.SwapUint32(&m.state, mutexContended) == mutexUnlocked {
			atomic.StoreUint32(&m.owner, selfPID)
			return
		}
		err := internalshm.FutexWait(&m.state, mutexContended, lockProbeInterval)
		if !errors.Is(err, internalshm.ErrFutexTimeout) {
			continue
		}
		owner := atomic.LoadUint32(&m.owner)
		if owner != 0 && !health.ProcessAlive(owner) &&
			atomic.CompareAndSwapUint32(&m.owner, owner, selfPID) {
			atomic.StoreUint32(&m.state, mutexContended)
			return
		}
	}
}

// Unlock releases m.
func (m *Mutex) Unlock() {
	atomic.StoreUint32(&m.owner, 0)
	if atomic.SwapUint32(&m.state, mutexUnlocked) == mutexContended {
		_ = internalshm.FutexWake(&m.state, 1)
	}
}

// Cond is a sequence-counter condition variable usable across processes.
// The zero value is ready to use.
type Cond struct {
	seq uint32
}

// Wait atomically unlocks m and suspends until signalled, then re-locks m.
func (c *Cond) Wait(m *Mutex) {
	c.WaitTimeout(m, 0)
}

// WaitTimeout is Wait bounded by d (d <= 0 waits forever). It reports whether
// the wait timed out. As with any condition variable, callers re-check their
// predicate in a loop.
func (c *Cond) WaitTimeout(m *Mutex, d time.Duration) (timedOut bool) {
	seq := atomic.LoadUint32(&c.seq)
	m.Unlock()
	err := internalshm.FutexWait(&c.seq, seq, d)
	m.Lock()
	return errors.Is(err, internalshm.ErrFutexTimeout)
}

// Signal wakes one waiter.
func (c *Cond) Signal() {
	atomic.AddUint32(&c.seq, 1)
	_ = internalshm.FutexWake(&c.seq, 1)
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	atomic.AddUint32(&c.seq, 1)
	_ = internalshm.FutexWake(&c.seq, math.MaxInt32)
}
