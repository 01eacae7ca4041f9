//go:build !linux

package shm

import "time"

// FutexWait falls back to sleeping for the timeout; there is no cross-process
// wait queue on this platform.
func FutexWait(addr *uint32, val uint32, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	time.Sleep(timeout)
	return ErrFutexTimeout
}

// FutexWake is a no-op on this platform.
func FutexWake(addr *uint32, n int) error {
	return nil
}
