package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Put(Status{ID: "b", Segment: "sm1", Role: "Writer", State: StateAttached})
	r.Put(Status{ID: "a", Segment: "sm1", Role: "Reader", State: StateAttached})

	r.Heartbeat("a", 4096)
	st, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, StateStreaming, st.State)
	assert.Equal(t, int64(4096), st.Bytes)

	r.Finish("a", 8192, nil)
	r.Finish("b", 10, errors.New("boom"))
	r.Heartbeat("a", 1)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, StateDone, snap[0].State)
	assert.Equal(t, int64(8192), snap[0].Bytes)
	assert.Equal(t, StateFailed, snap[1].State)
	assert.Equal(t, "boom", snap[1].Err)

	r.Remove("b")
	_, ok = r.Get("b")
	assert.False(t, ok)
	r.Finish("missing", 0, nil)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestLivenessDetectsStall(t *testing.T) {
	r := NewRegistry(time.Second)
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	r.Heartbeat("s", 1)
	assert.NoError(t, r.LivenessCheck()())

	now = now.Add(2 * time.Second)
	err := r.LivenessCheck()()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session s stalled")

	r.Finish("s", 1, nil)
	assert.NoError(t, r.LivenessCheck()())

	assert.NoError(t, NewRegistry(0).LivenessCheck()())
}

func TestChecksServeThroughHandler(t *testing.T) {
	r := NewRegistry(time.Second)
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("sessions", r.LivenessCheck())
	h.AddReadinessCheck("sessions", r.ReadinessCheck())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	r.Put(Status{ID: "x", State: StateAttached})
	r.Finish("x", 0, errors.New("destination unwritable"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
