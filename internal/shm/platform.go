// Package shm contains platform-specific helpers for the shared memory segment implementation.
package shm

import (
	"errors"
	"path/filepath"
)

// DefaultDir is where named segments live on Linux.
const DefaultDir = "/dev/shm"

// FilePrefix namespaces segment files inside the directory.
const FilePrefix = "shmcopy."

var (
	// ErrUnsupported is returned on platforms without the futex/mmap backend.
	ErrUnsupported = errors.New("shared memory segments are not supported on this platform")
	// ErrUnlinked means the file was opened after a releasing peer unlinked it.
	ErrUnlinked = errors.New("segment file was unlinked")
	// ErrUninitialized means the creator has not sized the file yet.
	ErrUninitialized = errors.New("segment file is not initialized yet")
	// ErrSizeMismatch means the existing file does not have the expected size.
	ErrSizeMismatch = errors.New("segment size mismatch")
	// ErrFutexTimeout is returned by FutexWait when the timeout elapses.
	ErrFutexTimeout = errors.New("futex wait timed out")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr    []byte
	Path    string
	Created bool
	fd      int
	locked  bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Dir  string
	Name string
	Size int
}

// Path returns the backing file path for opts.
func (o MapOptions) Path() string {
	dir := o.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, FilePrefix+o.Name)
}

// Function implementations are provided in platform-specific files (platform_linux.go, platform_other.go).
