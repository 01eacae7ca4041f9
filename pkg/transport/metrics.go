package transport

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/srediag/shmcopy/pkg/shm"
)

const (
	phasePeer = "peer"
	phaseSlot = "slot"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Bytes    *prometheus.CounterVec
	Handoffs *prometheus.CounterVec
	Wait     *prometheus.HistogramVec
	Sessions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_bytes_total",
				Help: "Bytes moved through shared memory slots",
			},
			[]string{"role"},
		),
		Handoffs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_slot_handoffs_total",
				Help: "Slots published by the reader or drained by the writer",
			},
			[]string{"role", "slot"},
		),
		Wait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shmcopy_wait_seconds",
				Help:    "Time spent waiting for the peer or for a slot",
				Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 2.5, 5},
			},
			[]string{"role", "phase"},
		),
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmcopy_sessions_total",
				Help: "Completed transfer sides by outcome",
			},
			[]string{"role", "outcome"},
		),
	}
}

func (m *Metrics) observeHandoff(role shm.Role, slot, n int) {
	if m == nil {
		return
	}
	r := role.String()
	m.Bytes.WithLabelValues(r).Add(float64(n))
	m.Handoffs.WithLabelValues(r, strconv.Itoa(slot)).Inc()
}

func (m *Metrics) observeWait(role shm.Role, phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.Wait.WithLabelValues(role.String(), phase).Observe(d.Seconds())
}

func (m *Metrics) observeSession(role shm.Role, err error) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(role.String(), Outcome(err)).Inc()
}

// Outcome classifies err into the label used by shmcopy_sessions_total.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPeerTimeout):
		return "peer_timeout"
	case errors.Is(err, ErrPeerAborted):
		return "peer_aborted"
	case errors.Is(err, ErrPeerGone):
		return "peer_gone"
	default:
		return "error"
	}
}
