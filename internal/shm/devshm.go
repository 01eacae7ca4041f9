package shm

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// HasRoomFor reports whether dir has at least size free bytes. When usage
// cannot be determined it answers true and lets the create call fail on its own.
func HasRoomFor(dir string, size uint64) bool {
	if dir == "" {
		dir = DefaultDir
	}
	stat, err := disk.Usage(dir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
