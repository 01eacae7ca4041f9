// Package health tracks the state of copy sessions running in this process
// and turns it into liveness and readiness checks.
package health

import (
	"fmt"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// State is the coarse state of a session.
type State string

const (
	StateAttached  State = "attached"
	StateStreaming State = "streaming"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Status is a snapshot of one session.
type Status struct {
	ID      string
	Segment string
	Role    string
	State   State
	Bytes   int64
	Err     string
	Updated time.Time
}

// Registry holds the status of every session, keyed by session id.
type Registry struct {
	sessions cmap.ConcurrentMap[string, Status]
	// StallAfter is how long a streaming session may go without a heartbeat
	// before the liveness check fails.
	StallAfter time.Duration
	now        func() time.Time
}

// NewRegistry returns an empty registry. stallAfter <= 0 disables the stall check.
func NewRegistry(stallAfter time.Duration) *Registry {
	return &Registry{
		sessions:   cmap.New[Status](),
		StallAfter: stallAfter,
		now:        time.Now,
	}
}

// Put stores st, stamping it with the current time.
func (r *Registry) Put(st Status) {
	st.Updated = r.now()
	r.sessions.Set(st.ID, st)
}

// Heartbeat records progress for a session. A finished session keeps its
// final state.
func (r *Registry) Heartbeat(id string, bytes int64) {
	now := r.now()
	r.sessions.Upsert(id, Status{ID: id}, func(exist bool, cur, fresh Status) Status {
		if !exist {
			cur = fresh
		}
		if cur.State == StateDone || cur.State == StateFailed {
			return cur
		}
		cur.State = StateStreaming
		cur.Bytes = bytes
		cur.Updated = now
		return cur
	})
}

// Finish marks a session done, or failed when err is not nil.
func (r *Registry) Finish(id string, bytes int64, err error) {
	st, ok := r.sessions.Get(id)
	if !ok {
		return
	}
	st.Bytes = bytes
	st.State = StateDone
	if err != nil {
		st.State = StateFailed
		st.Err = err.Error()
	}
	r.Put(st)
}

// Get returns the status of id.
func (r *Registry) Get(id string) (Status, bool) {
	return r.sessions.Get(id)
}

// Remove forgets a session.
func (r *Registry) Remove(id string) {
	r.sessions.Remove(id)
}

// Snapshot returns every status ordered by id.
func (r *Registry) Snapshot() []Status {
	out := make([]Status, 0, r.sessions.Count())
	for _, st := range r.sessions.Items() {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LivenessCheck fails while a streaming session has not made progress for
// longer than StallAfter.
func (r *Registry) LivenessCheck() healthcheck.Check {
	return func() error {
		if r.StallAfter <= 0 {
			return nil
		}
		now := r.now()
		for _, st := range r.Snapshot() {
			if st.State == StateStreaming && now.Sub(st.Updated) > r.StallAfter {
				return fmt.Errorf("session %s stalled for %s", st.ID, now.Sub(st.Updated).Round(time.Millisecond))
			}
		}
		return nil
	}
}

// ReadinessCheck fails once any session has failed.
func (r *Registry) ReadinessCheck() healthcheck.Check {
	return func() error {
		for _, st := range r.Snapshot() {
			if st.State == StateFailed {
				return fmt.Errorf("session %s failed: %s", st.ID, st.Err)
			}
		}
		return nil
	}
}
