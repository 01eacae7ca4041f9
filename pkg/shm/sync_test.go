package shm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMutexExclusion(t *testing.T) {
	var (
		m       Mutex
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 16000, counter)
	assert.Equal(t, mutexUnlocked, atomic.LoadUint32(&m.state))
	assert.Zero(t, atomic.LoadUint32(&m.owner))
}

func TestMutexTakesOverFromDeadOwner(t *testing.T) {
	var m Mutex
	// Pretend a process that no longer exists died holding the lock.
	atomic.StoreUint32(&m.state, mutexLocked)
	atomic.StoreUint32(&m.owner, 1<<30)

	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock held by a dead process was never taken over")
	}
	assert.Equal(t, selfPID, atomic.LoadUint32(&m.owner))
	m.Unlock()
}

func TestCondWaitTimeout(t *testing.T) {
	var (
		m Mutex
		c Cond
	)
	m.Lock()
	start := time.Now()
	timedOut := c.WaitTimeout(&m, 20*time.Millisecond)
	m.Unlock()
	assert.True(t, timedOut)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestCondBroadcastWakesAll(t *testing.T) {
	var (
		m     Mutex
		c     Cond
		ready bool
		wg    sync.WaitGroup
		woke  atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock()
			for !ready {
				c.WaitTimeout(&m, time.Second)
			}
			m.Unlock()
			woke.Add(1)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	m.Lock()
	ready = true
	c.Broadcast()
	m.Unlock()
	wg.Wait()
	assert.Equal(t, int32(4), woke.Load())
}

func TestCondSignal(t *testing.T) {
	var (
		m    Mutex
		c    Cond
		flag bool
	)
	done := make(chan struct{})
	go func() {
		m.Lock()
		for !flag {
			c.Wait(&m)
		}
		m.Unlock()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	m.Lock()
	flag = true
	c.Signal()
	m.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not signalled")
	}
}
