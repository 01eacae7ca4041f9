package shm

import "fmt"

// Role is the part a process plays on a segment.
type Role int

const (
	// RoleReader owns the source file and fills slots.
	RoleReader Role = iota + 1
	// RoleWriter owns the destination file and drains slots.
	RoleWriter
	// RoleObserver is a third or later attacher and does no transfer work.
	RoleObserver
)

func (r Role) String() string {
	switch r {
	case RoleReader:
		return "Reader"
	case RoleWriter:
		return "Writer"
	case RoleObserver:
		return "Observer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Negotiate maps the attach order, taken from the segment's monotonic attach
// sequence, to a role. The creator always increments first, so the creator is the
// Reader and the first process to open an existing segment is the Writer.
func Negotiate(order int32) Role {
	switch {
	case order <= 1:
		return RoleReader
	case order == 2:
		return RoleWriter
	default:
		return RoleObserver
	}
}
