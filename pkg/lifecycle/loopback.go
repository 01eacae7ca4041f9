package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/shmcopy/pkg/shm"
	"github.com/srediag/shmcopy/pkg/transport"
)

// ErrSamePath is returned when source and destination name the same file.
var ErrSamePath = errors.New("source and destination are the same file")

// RunLoopback runs both sides of a copy inside this process: two sessions on
// the same segment, each driven by its own worker. The sessions are opened
// before either side starts, so the first is always the Reader. It returns
// the Reader's and the Writer's reports.
func RunLoopback(ctx context.Context, opts Options, source, destination string) (reader, writer transport.Report, err error) {
	if samePath(source, destination) {
		return reader, writer, ErrSamePath
	}
	sessions := make([]*Session, 0, 2)
	defer func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}()
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, opts)
		if err != nil {
			return reader, writer, err
		}
		sessions = append(sessions, s)
	}
	if sessions[0].Role() != shm.RoleReader || sessions[1].Role() != shm.RoleWriter {
		// Someone else attached to the same segment name first.
		return reader, writer, fmt.Errorf("loopback on %q: got roles %s and %s", opts.Segment,
			sessions[0].Role(), sessions[1].Role())
	}

	pool, err := ants.NewPool(2, ants.WithPreAlloc(true))
	if err != nil {
		return reader, writer, fmt.Errorf("loopback pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		reps [2]transport.Report
		errs [2]error
	)
	for i, s := range sessions {
		i, s := i, s // per-iteration copies for go < 1.22 loop semantics
		wg.Add(1)
		task := func() {
			defer wg.Done()
			reps[i], errs[i] = s.CopyFile(ctx, source, destination)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Role(), errs[i])
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			s.Terminate()
			errs[i] = err
		}
	}
	wg.Wait()
	return reps[0], reps[1], errors.Join(errs[:]...)
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}
