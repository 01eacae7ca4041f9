//go:build !linux

package shm

import "os"

// CreateRegion is not implemented outside Linux.
func CreateRegion(opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// OpenRegion is not implemented outside Linux.
func OpenRegion(opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

func (r *MappedRegion) Lock() error   { return ErrUnsupported }
func (r *MappedRegion) Unlock() error { return nil }
func (r *MappedRegion) Unlink() error { return Unlink(r.Path) }

// Unlink removes a backing file by path.
func Unlink(path string) error {
	return os.Remove(path)
}

// UnmapRegion is a no-op outside Linux.
func UnmapRegion(region *MappedRegion) error {
	return nil
}
