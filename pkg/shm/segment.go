package shm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/shmcopy/internal/logger"
	internalshm "github.com/srediag/shmcopy/internal/shm"
)

// DefaultAttachTimeout bounds how long Acquire keeps retrying while another
// process is creating or unlinking the same segment.
const DefaultAttachTimeout = 2 * time.Second

// Options configures Acquire.
type Options struct {
	// Name identifies the segment. Both peers must use the same name.
	Name string
	// Dir holds the backing file. Defaults to /dev/shm.
	Dir string
	// AttachTimeout bounds retries of transient attach failures.
	AttachTimeout time.Duration
	// PollInterval is the first retry delay.
	PollInterval time.Duration
	Logger       *logger.Logger
}

func (o *Options) fill() {
	if o.Dir == "" {
		o.Dir = internalshm.DefaultDir
	}
	if o.AttachTimeout <= 0 {
		o.AttachTimeout = DefaultAttachTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

func (o Options) mapOptions() internalshm.MapOptions {
	return internalshm.MapOptions{Dir: o.Dir, Name: o.Name, Size: SegmentSize}
}

// noCopy may be embedded into structs which must not be copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Segment is an attached named shared memory segment.
type Segment struct {
	_ noCopy

	name     string
	region   *internalshm.MappedRegion
	cb       *ControlBlock
	order    int32
	role     Role
	log      *logger.Logger
	released atomic.Bool
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

// Acquire attaches to the segment called opts.Name, creating and initializing
// it if it does not exist yet. The attach counter is incremented under the
// segment's file lock, so the returned segment's Order and Role are final.
func Acquire(ctx context.Context, opts Options) (*Segment, error) {
	opts.fill()
	if !validName(opts.Name) {
		return nil, &SegmentError{Op: "acquire", Name: opts.Name, Err: ErrInvalidName}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.PollInterval
	b.MaxInterval = 10 * opts.PollInterval
	b.MaxElapsedTime = opts.AttachTimeout

	var seg *Segment
	op := func() error {
		s, err := attach(opts)
		if err == nil {
			seg = s
			return nil
		}
		if errors.Is(err, internalshm.ErrUnlinked) || errors.Is(err, internalshm.ErrUninitialized) ||
			errors.Is(err, fs.ErrExist) {
			opts.Logger.Debugf("segment %s busy, retrying: %v", opts.Name, err)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		var se *SegmentError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, &SegmentError{Op: "acquire", Name: opts.Name, Err: err}
	}
	return seg, nil
}

// attach makes one attempt to open or create the segment.
func attach(opts Options) (*Segment, error) {
	mo := opts.mapOptions()
	region, err := internalshm.OpenRegion(mo)
	if errors.Is(err, fs.ErrNotExist) {
		return create(opts)
	}
	if err != nil {
		if errors.Is(err, internalshm.ErrSizeMismatch) {
			return nil, &SegmentError{Op: "open", Name: opts.Name, Err: fmt.Errorf("%w: %v", ErrLayoutMismatch, err)}
		}
		if errors.Is(err, internalshm.ErrUnlinked) || errors.Is(err, internalshm.ErrUninitialized) {
			return nil, err
		}
		return nil, &SegmentError{Op: "open", Name: opts.Name, Err: err}
	}
	cb := (*ControlBlock)(unsafe.Pointer(&region.Addr[0]))
	if err := cb.validate(); err != nil {
		_ = internalshm.UnmapRegion(region)
		return nil, &SegmentError{Op: "open", Name: opts.Name, Err: err}
	}
	return finishAttach(opts, region, cb), nil
}

func create(opts Options) (*Segment, error) {
	if !internalshm.HasRoomFor(opts.Dir, uint64(SegmentSize)) {
		return nil, &SegmentError{Op: "create", Name: opts.Name, Err: ErrNoSpace}
	}
	region, err := internalshm.CreateRegion(opts.mapOptions())
	if err != nil {
		// Lost the creation race; the next attempt opens the winner's file.
		if errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		return nil, &SegmentError{Op: "create", Name: opts.Name, Err: err}
	}
	cb := (*ControlBlock)(unsafe.Pointer(&region.Addr[0]))
	cb.initialize()
	opts.Logger.Debugf("created segment %s (%d bytes)", region.Path, SegmentSize)
	return finishAttach(opts, region, cb), nil
}

// finishAttach runs with the file lock held and drops it before returning.
func finishAttach(opts Options, region *internalshm.MappedRegion, cb *ControlBlock) *Segment {
	order := cb.attachInc()
	role := Negotiate(order)
	cb.setPID(role, selfPID)
	_ = region.Unlock()
	s := &Segment{
		name:   opts.Name,
		region: region,
		cb:     cb,
		order:  order,
		role:   role,
		log:    opts.Logger,
	}
	s.log.Debugf("attached to %s as %s (order %d)", region.Path, role, order)
	return s
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Path returns the backing file path.
func (s *Segment) Path() string { return s.region.Path }

// Control returns the mapped control block. It must not be used after Release.
func (s *Segment) Control() *ControlBlock { return s.cb }

// Order is the attach order this process observed.
func (s *Segment) Order() int32 { return s.order }

// Role is the role negotiated from Order.
func (s *Segment) Role() Role { return s.role }

// Created reports whether this process created the segment.
func (s *Segment) Created() bool { return s.region.Created }

// Release detaches from the segment, unlinking it when this was the last
// attachment or when the transfer was aborted because the peer died.
// Calling Release more than once is a no-op.
func (s *Segment) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.region.Lock(); err != nil {
		errs = append(errs, err)
	} else {
		// A peer that died mid-transfer never detaches, so its reference
		// is dropped here instead of keeping the name alive.
		if left := s.cb.attachDec(); left <= 0 || s.cb.Aborted() == AbortPeerGone {
			err := s.region.Unlink()
			switch {
			case err == nil:
				s.log.Debugf("last detach, removed %s", s.region.Path)
			case !errors.Is(err, fs.ErrNotExist):
				errs = append(errs, err)
			}
		}
	}
	s.cb = nil
	if err := internalshm.UnmapRegion(s.region); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return &SegmentError{Op: "release", Name: s.name, Err: err}
	}
	return nil
}

// Exists reports whether a backing file for name is present in dir.
func Exists(dir, name string) bool {
	if !validName(name) {
		return false
	}
	_, err := os.Stat(internalshm.MapOptions{Dir: dir, Name: name}.Path())
	return err == nil
}

// Remove unlinks a stale segment regardless of its attach counter. Processes
// still attached keep their mapping; new Acquire calls create a fresh segment.
func Remove(dir, name string) error {
	if !validName(name) {
		return &SegmentError{Op: "remove", Name: name, Err: ErrInvalidName}
	}
	if err := internalshm.Unlink(internalshm.MapOptions{Dir: dir, Name: name}.Path()); err != nil {
		return &SegmentError{Op: "remove", Name: name, Err: err}
	}
	return nil
}
