//go:build linux

package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmcopy/pkg/health"
	"github.com/srediag/shmcopy/pkg/shm"
	"github.com/srediag/shmcopy/pkg/transport"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Segment:      "sm1",
		Dir:          t.TempDir(),
		PeerTimeout:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}
}

func writeSource(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, _ = rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestRunLoopbackCopiesFile(t *testing.T) {
	for _, size := range []int{0, 1, shm.SlotCapacity, shm.SlotCapacity + 1, 3<<20 + 7} {
		opts := testOptions(t)
		src, data := writeSource(t, size)
		dst := filepath.Join(t.TempDir(), "destination")

		reader, writer, err := RunLoopback(context.Background(), opts, src, dst)
		require.NoError(t, err, "size %d", size)
		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "size %d: destination differs", size)
		assert.Equal(t, int64(size), reader.Bytes)
		assert.Equal(t, int64(size), writer.Bytes)
		assert.Equal(t, shm.RoleReader, reader.Role)
		assert.Equal(t, shm.RoleWriter, writer.Role)
		assert.False(t, shm.Exists(opts.Dir, opts.Segment), "segment left behind")
	}
}

func TestTwoIndependentRuns(t *testing.T) {
	opts := testOptions(t)
	reg := health.NewRegistry(time.Minute)
	opts.Health = reg
	opts.Metrics = transport.NewMetrics(prometheus.NewRegistry())
	src, data := writeSource(t, 5*shm.SlotCapacity+123)
	dst := filepath.Join(t.TempDir(), "out.bin")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	reps := make([]transport.Report, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reps[i], errs[i] = Run(context.Background(), opts, src, dst)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.ElementsMatch(t, []shm.Role{shm.RoleReader, shm.RoleWriter}, []shm.Role{reps[0].Role, reps[1].Role})

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	for _, st := range snap {
		assert.Equal(t, health.StateDone, st.State)
		assert.Equal(t, int64(len(data)), st.Bytes)
	}
}

func TestObserverDoesNothing(t *testing.T) {
	opts := testOptions(t)
	reader, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer reader.Close()
	writer, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer writer.Close()
	extra, err := Open(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, shm.RoleObserver, extra.Role())
	dst := filepath.Join(t.TempDir(), "never")
	rep, err := extra.CopyFile(context.Background(), "/does/not/exist", dst)
	assert.NoError(t, err)
	assert.Zero(t, rep.Bytes)
	assert.NoFileExists(t, dst)
	require.NoError(t, extra.Close())
	require.NoError(t, extra.Close())
	assert.Equal(t, int32(2), reader.Segment().Control().AttachCount())
}

func TestLateAttacherAfterReaderLeftIsObserver(t *testing.T) {
	opts := testOptions(t)
	src, data := writeSource(t, shm.SlotCapacity+10)
	dst := filepath.Join(t.TempDir(), "dst")
	lateDst := filepath.Join(t.TempDir(), "late")

	reader, err := Open(context.Background(), opts)
	require.NoError(t, err)
	writer, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer writer.Close()

	rep, err := reader.CopyFile(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), rep.Bytes)
	require.NoError(t, reader.Close())

	late, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer late.Close()
	assert.Equal(t, shm.RoleObserver, late.Role())
	rep, err = late.CopyFile(context.Background(), src, lateDst)
	require.NoError(t, err)
	assert.Zero(t, rep.Bytes)
	assert.NoFileExists(t, lateDst)

	rep, err = writer.CopyFile(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), rep.Bytes)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReaderTimesOutWithoutWriter(t *testing.T) {
	opts := testOptions(t)
	opts.PeerTimeout = 50 * time.Millisecond
	src, _ := writeSource(t, 10)

	_, err := Run(context.Background(), opts, src, filepath.Join(t.TempDir(), "dst"))
	assert.ErrorIs(t, err, transport.ErrPeerTimeout)
	assert.False(t, shm.Exists(opts.Dir, opts.Segment))
}

func TestMissingSourceReleasesWriter(t *testing.T) {
	opts := testOptions(t)
	src := filepath.Join(t.TempDir(), "missing")
	dst := filepath.Join(t.TempDir(), "dst")

	_, _, err := RunLoopback(context.Background(), opts, src, dst)
	require.Error(t, err)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "open", fe.Op)
	assert.Equal(t, src, fe.Path)
	assert.ErrorIs(t, err, transport.ErrPeerAborted)
	assert.NoFileExists(t, dst)
}

func TestUnwritableDestinationReleasesReader(t *testing.T) {
	opts := testOptions(t)
	src, _ := writeSource(t, 4*shm.SlotCapacity)
	dst := filepath.Join(t.TempDir(), "no", "such", "dir", "dst")

	_, _, err := RunLoopback(context.Background(), opts, src, dst)
	require.Error(t, err)
	var fe *FileError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "create", fe.Op)
	assert.ErrorIs(t, err, transport.ErrPeerAborted)
}

func TestTerminateStopsWriter(t *testing.T) {
	opts := testOptions(t)
	reader, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer reader.Close()
	writer, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer writer.Close()

	dst := filepath.Join(t.TempDir(), "partial")
	done := make(chan error, 1)
	go func() {
		_, err := writer.CopyFile(context.Background(), "", dst)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	writer.Terminate()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("terminate did not stop the writer")
	}
	assert.NoFileExists(t, dst)
	assert.Equal(t, shm.AbortTerminated, reader.Segment().Control().Aborted())
}

func TestContextCancelStopsReader(t *testing.T) {
	opts := testOptions(t)
	opts.PeerTimeout = time.Minute
	src, _ := writeSource(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, opts, src, filepath.Join(t.TempDir(), "dst"))
	assert.ErrorIs(t, err, ErrTerminated)
	assert.False(t, shm.Exists(opts.Dir, opts.Segment))
}

func TestTerminateAfterCloseIsNoop(t *testing.T) {
	s, err := Open(context.Background(), testOptions(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NotPanics(t, s.Terminate)
}

func TestLoopbackRejectsSamePath(t *testing.T) {
	src, _ := writeSource(t, 1)
	_, _, err := RunLoopback(context.Background(), testOptions(t), src, src)
	assert.ErrorIs(t, err, ErrSamePath)
}

func TestInvalidSegmentName(t *testing.T) {
	opts := testOptions(t)
	opts.Segment = "a/b"
	_, err := Open(context.Background(), opts)
	assert.ErrorIs(t, err, shm.ErrInvalidName)
}
