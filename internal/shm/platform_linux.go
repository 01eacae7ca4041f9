//go:build linux

package shm

import (
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// CreateRegion creates the backing file exclusively, sizes it and maps it.
// The returned region holds the exclusive file lock; the caller initializes
// the memory and then calls Unlock.
func CreateRegion(opts MapOptions) (*MappedRegion, error) {
	path := opts.Path()
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	r := &MappedRegion{Path: path, Created: true, fd: fd}
	fail := func(op string, err error) (*MappedRegion, error) {
		if r.locked {
			_ = unix.Flock(fd, unix.LOCK_UN)
		}
		_ = unix.Unlink(path)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// umask must not narrow the permissions of a segment shared between users.
	if err := unix.Fchmod(fd, 0666); err != nil {
		return fail("fchmod", err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fail("flock", err)
	}
	r.locked = true
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		return fail("ftruncate", err)
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail("mmap", err)
	}
	r.Addr = addr
	return r, nil
}

// OpenRegion opens an existing backing file and maps it. Like CreateRegion it
// returns with the exclusive file lock held.
func OpenRegion(opts MapOptions) (*MappedRegion, error) {
	path := opts.Path()
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	r := &MappedRegion{Path: path, fd: fd}
	fail := func(err error) (*MappedRegion, error) {
		if r.locked {
			_ = unix.Flock(fd, unix.LOCK_UN)
		}
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fail(fmt.Errorf("flock: %w", err))
	}
	r.locked = true
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fail(fmt.Errorf("fstat: %w", err))
	}
	switch {
	case st.Nlink == 0:
		return fail(ErrUnlinked)
	case st.Size == 0:
		return fail(ErrUninitialized)
	case st.Size != int64(opts.Size):
		return fail(fmt.Errorf("%w: have %d bytes, want %d", ErrSizeMismatch, st.Size, opts.Size))
	}
	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail(fmt.Errorf("mmap: %w", err))
	}
	r.Addr = addr
	return r, nil
}

// Lock takes the exclusive file lock that serializes attach and detach.
func (r *MappedRegion) Lock() error {
	if err := unix.Flock(r.fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	r.locked = true
	return nil
}

// Unlock drops the file lock.
func (r *MappedRegion) Unlock() error {
	if !r.locked {
		return nil
	}
	r.locked = false
	if err := unix.Flock(r.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock: %w", err)
	}
	return nil
}

// Unlink removes the backing file from the namespace. Existing mappings stay
// valid. It only unlinks the path while the path still names this region's
// file; once the file is gone, or a new segment took the name, it returns an
// error wrapping fs.ErrNotExist.
func (r *MappedRegion) Unlink() error {
	var own, cur unix.Stat_t
	if err := unix.Fstat(r.fd, &own); err != nil {
		return fmt.Errorf("fstat: %w", err)
	}
	if own.Nlink == 0 {
		return fmt.Errorf("unlink: %w", fs.ErrNotExist)
	}
	if err := unix.Stat(r.Path, &cur); err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if cur.Dev != own.Dev || cur.Ino != own.Ino {
		return fmt.Errorf("unlink: %s names another segment: %w", r.Path, fs.ErrNotExist)
	}
	return Unlink(r.Path)
}

// Unlink removes a backing file by path.
func Unlink(path string) error {
	if err := unix.Unlink(path); err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	return nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
func UnmapRegion(region *MappedRegion) error {
	if region == nil {
		return nil
	}
	var firstErr error
	if err := region.Unlock(); err != nil {
		firstErr = err
	}
	if region.Addr != nil {
		if err := unix.Munmap(region.Addr); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap: %w", err)
		}
		region.Addr = nil
	}
	if region.fd >= 0 {
		if err := unix.Close(region.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close: %w", err)
		}
		region.fd = -1
	}
	return firstErr
}
