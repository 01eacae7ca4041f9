// Package transport moves a byte stream through the two slots of a shared
// memory control block. ReadFrom runs in the Reader process and fills slots
// from a source; WriteTo runs in the Writer process and drains them into a
// destination. Both walk the slots in the same strict order, so the bytes
// arrive in source order.
package transport

import (
	"errors"
	"time"

	"github.com/srediag/shmcopy/internal/logger"
	"github.com/srediag/shmcopy/pkg/shm"
)

const (
	// DefaultPeerTimeout bounds how long the Reader waits for a Writer.
	DefaultPeerTimeout = 5 * time.Second
	// DefaultPollInterval is the longest single sleep inside any wait.
	DefaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrPeerTimeout means no Writer attached within the peer timeout.
	ErrPeerTimeout = errors.New("timed out waiting for the writer to start")
	// ErrPeerGone means the peer process exited without finishing.
	ErrPeerGone = errors.New("peer process exited mid-transfer")
	// ErrPeerAborted means the peer gave up and marked the segment aborted.
	ErrPeerAborted = errors.New("peer aborted the transfer")
)

// Config configures a Pipeline.
type Config struct {
	ControlBlock *shm.ControlBlock
	PeerTimeout  time.Duration
	PollInterval time.Duration
	Logger       *logger.Logger
	// Metrics and Progress are optional.
	Metrics  *Metrics
	Progress *ProgressRing
}

// Pipeline runs one side of a transfer over a control block.
type Pipeline struct {
	cfg Config
	cb  *shm.ControlBlock
	log *logger.Logger
}

// New validates cfg, fills defaults and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.ControlBlock == nil {
		return nil, errors.New("transport: nil control block")
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Pipeline{cfg: cfg, cb: cfg.ControlBlock, log: cfg.Logger}, nil
}

// Abort stops the transfer on cb for both peers: it marks the stream finished
// and aborted with reason, drops any unconsumed slot contents and wakes every
// waiter. The first recorded reason wins. The caller must not hold any slot lock.
func Abort(cb *shm.ControlBlock, reason shm.AbortReason) {
	cb.LockSlots()
	cb.MarkFinished()
	cb.MarkAborted(reason)
	for i := 0; i < shm.SlotCount; i++ {
		s := cb.Slot(i)
		s.Consume()
		s.Broadcast()
	}
	cb.UnlockSlots()

	cb.PeerLock()
	cb.PeerBroadcast()
	cb.PeerUnlock()
}
