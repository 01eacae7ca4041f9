// Package lifecycle drives one copy session end to end: attach to the named
// segment, take the negotiated role, run that side of the transfer and
// release everything on every exit path.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/srediag/shmcopy/adapter"
	"github.com/srediag/shmcopy/api"
	"github.com/srediag/shmcopy/internal/logger"
	"github.com/srediag/shmcopy/pkg/health"
	"github.com/srediag/shmcopy/pkg/shm"
	"github.com/srediag/shmcopy/pkg/transport"
)

// ErrTerminated is returned when a copy is stopped by Terminate or by
// cancelling its context.
var ErrTerminated = errors.New("copy terminated")

// FileError reports a failure on the source or destination file.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error { return e.Err }

const defaultProgressSize = 256

// Options configures a Session.
type Options struct {
	// Segment is the shared memory name both peers agree on.
	Segment       string
	Dir           string
	PeerTimeout   time.Duration
	PollInterval  time.Duration
	AttachTimeout time.Duration
	Logger        *logger.Logger

	Metrics   *transport.Metrics
	Telemetry *adapter.Telemetry
	Health    *health.Registry
	// ProgressSize is the capacity of the progress ring.
	ProgressSize uint64
}

func (o *Options) fill() {
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Telemetry == nil {
		o.Telemetry = adapter.NopTelemetry()
	}
	if o.Health == nil {
		o.Health = health.NewRegistry(0)
	}
	if o.ProgressSize == 0 {
		o.ProgressSize = defaultProgressSize
	}
}

var _ api.CopyTool = (*Session)(nil)

// Session is one process's attachment to a copy segment.
type Session struct {
	id   string
	opts Options
	seg  *shm.Segment
	log  *logger.Logger

	mu         sync.Mutex
	closed     bool
	terminated atomic.Bool
}

// Open attaches to the segment named by opts.Segment and negotiates this
// process's role.
func Open(ctx context.Context, opts Options) (*Session, error) {
	opts.fill()
	seg, err := shm.Acquire(ctx, shm.Options{
		Name:          opts.Segment,
		Dir:           opts.Dir,
		AttachTimeout: opts.AttachTimeout,
		Logger:        opts.Logger.Named("shm"),
	})
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	s := &Session{
		id:   id,
		opts: opts,
		seg:  seg,
		log:  opts.Logger.Named("session").With("session", id, "segment", opts.Segment),
	}
	s.log.Infof("copy tool mode: %s", seg.Role())
	s.log.Infof("copy tool number: %d", seg.Order())
	opts.Health.Put(health.Status{
		ID:      id,
		Segment: opts.Segment,
		Role:    seg.Role().String(),
		State:   health.StateAttached,
	})
	return s, nil
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// Role is the negotiated role.
func (s *Session) Role() shm.Role { return s.seg.Role() }

// Segment exposes the attached segment.
func (s *Session) Segment() *shm.Segment { return s.seg }

// CopyFile performs this process's side of copying source to destination.
// A Reader streams source into the segment, a Writer drains the segment into
// destination and an Observer does nothing.
func (s *Session) CopyFile(ctx context.Context, source, destination string) (rep transport.Report, err error) {
	role := s.seg.Role()
	ctx, span := s.opts.Telemetry.StartSession(ctx, s.opts.Segment, role.String(), s.id)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if role != shm.RoleObserver {
			s.opts.Health.Finish(s.id, rep.Bytes, err)
		}
	}()

	switch role {
	case shm.RoleReader:
		rep, err = s.read(ctx, source)
	case shm.RoleWriter:
		rep, err = s.write(ctx, destination)
	default:
		s.log.Infof("extra attacher, nothing to do")
		s.opts.Health.Finish(s.id, 0, nil)
		return transport.Report{Role: role}, nil
	}
	if err == nil {
		s.log.Infof("%s finished: %d bytes in %s", role, rep.Bytes, rep.General)
		return rep, nil
	}
	if s.terminated.Load() || ctx.Err() != nil {
		s.log.Warnf("%s terminated after %d bytes", role, rep.Bytes)
		return rep, fmt.Errorf("%w: %v", ErrTerminated, err)
	}
	return rep, err
}

func (s *Session) read(ctx context.Context, source string) (transport.Report, error) {
	cb := s.seg.Control()
	f, err := os.Open(source)
	if err != nil {
		s.log.Errorf("couldn't open file %s for reading: %v", source, err)
		transport.Abort(cb, shm.AbortIO)
		return transport.Report{Role: shm.RoleReader}, &FileError{Op: "open", Path: source, Err: err}
	}
	defer f.Close()

	rep, err := s.run(ctx, func(p *transport.Pipeline) (transport.Report, error) {
		return p.ReadFrom(ctx, f)
	})
	if err != nil && !isPeerError(err) && ctx.Err() == nil && !s.terminated.Load() {
		return rep, &FileError{Op: "read", Path: source, Err: err}
	}
	return rep, err
}

func (s *Session) write(ctx context.Context, destination string) (transport.Report, error) {
	cb := s.seg.Control()
	if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warnf("couldn't remove existing %s: %v", destination, err)
	}
	f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.log.Errorf("couldn't open file %s for writing: %v", destination, err)
		transport.Abort(cb, shm.AbortIO)
		return transport.Report{Role: shm.RoleWriter}, &FileError{Op: "create", Path: destination, Err: err}
	}

	rep, err := s.run(ctx, func(p *transport.Pipeline) (transport.Report, error) {
		return p.WriteTo(ctx, f)
	})
	if err != nil {
		_ = f.Close()
		if rerr := os.Remove(destination); rerr == nil {
			s.log.Warnf("removed partial destination %s", destination)
		}
		if !isPeerError(err) && ctx.Err() == nil && !s.terminated.Load() {
			return rep, &FileError{Op: "write", Path: destination, Err: err}
		}
		return rep, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return rep, &FileError{Op: "sync", Path: destination, Err: err}
	}
	if err := f.Close(); err != nil {
		return rep, &FileError{Op: "close", Path: destination, Err: err}
	}
	return rep, nil
}

// run builds the pipeline and drives fn with a progress reporter attached.
func (s *Session) run(ctx context.Context, fn func(*transport.Pipeline) (transport.Report, error)) (transport.Report, error) {
	ring := transport.NewProgressRing(s.opts.ProgressSize)
	p, err := transport.New(transport.Config{
		ControlBlock: s.seg.Control(),
		PeerTimeout:  s.opts.PeerTimeout,
		PollInterval: s.opts.PollInterval,
		Logger:       s.log,
		Metrics:      s.opts.Metrics,
		Progress:     ring,
	})
	if err != nil {
		return transport.Report{Role: s.seg.Role()}, err
	}

	repCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		role := s.seg.Role().String()
		ring.Report(repCtx, s.log, func(ev transport.Progress) {
			s.opts.Health.Heartbeat(s.id, ev.Total)
			s.opts.Telemetry.RecordBytes(repCtx, role, int64(ev.Bytes))
		})
	}()
	defer func() {
		stop()
		ring.Close()
		wg.Wait()
	}()
	return fn(p)
}

func isPeerError(err error) bool {
	return errors.Is(err, transport.ErrPeerTimeout) ||
		errors.Is(err, transport.ErrPeerAborted) ||
		errors.Is(err, transport.ErrPeerGone)
}

// Terminate aborts an in-flight CopyFile in this process and wakes the peer.
// It is safe to call from another goroutine or a signal handler, and after Close.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.terminated.Store(true)
	s.log.Warnf("terminating")
	transport.Abort(s.seg.Control(), shm.AbortTerminated)
}

// Close releases the segment. It is idempotent. It must not be called while
// CopyFile is still running; use Terminate to stop it first.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.seg.Release()
}

// Run opens a session, copies source to destination and closes the session.
func Run(ctx context.Context, opts Options, source, destination string) (transport.Report, error) {
	s, err := Open(ctx, opts)
	if err != nil {
		return transport.Report{}, err
	}
	defer s.Close()
	return s.CopyFile(ctx, source, destination)
}
