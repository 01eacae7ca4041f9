package transport

import (
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/shmcopy/pkg/shm"
)

// Report summarizes one side of a transfer.
type Report struct {
	Role shm.Role
	// Bytes is the number of bytes read from the source (Reader) or
	// written to the destination (Writer).
	Bytes    int64
	Handoffs int64
	// PeerWait is how long the Reader waited for a Writer, or for the
	// Writer, how long after the Reader started it showed up.
	PeerWait time.Duration
	// Stalled is the time spent waiting on slots held by the peer.
	Stalled time.Duration
	Work    time.Duration
	General time.Duration
}

// String renders the report as the diagnostic lines printed after a copy.
func (r Report) String() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	line := func(k, v string) {
		_, _ = buf.WriteString(k)
		_, _ = buf.WriteString(": ")
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte('\n')
	}
	nanos := func(d time.Duration) string {
		return strconv.FormatInt(d.Nanoseconds(), 10) + " ns"
	}

	line("Mode", r.Role.String())
	switch r.Role {
	case shm.RoleReader:
		line("Writer wait time", nanos(r.PeerWait))
	case shm.RoleWriter:
		line("Expecting writer time", nanos(r.PeerWait))
	}
	line(r.Role.String()+" work time", nanos(r.Work))
	line("Slot stall time", nanos(r.Stalled))
	line("General work time", nanos(r.General))
	line("Slot hand-offs", strconv.FormatInt(r.Handoffs, 10))
	line("Processed data length", strconv.FormatInt(r.Bytes, 10))
	return buf.String()
}
