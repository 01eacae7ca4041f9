package shm

import (
	"errors"

	internalshm "github.com/srediag/shmcopy/internal/shm"
)

var (
	// ErrInvalidName is returned for empty names or names containing a path separator.
	ErrInvalidName = errors.New("invalid segment name")
	// ErrLayoutMismatch means the existing segment was built with a different layout.
	ErrLayoutMismatch = errors.New("segment layout mismatch")
	// ErrNoSpace means the segment directory cannot hold another segment.
	ErrNoSpace = errors.New("not enough space left for the segment")
	// ErrUnsupported is returned on platforms without a shared memory backend.
	ErrUnsupported = internalshm.ErrUnsupported
)

// SegmentError reports a failure to create, open, map or release a segment.
type SegmentError struct {
	Op   string
	Name string
	Err  error
}

func (e *SegmentError) Error() string {
	return "shm: " + e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}
