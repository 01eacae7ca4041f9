package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	internalshm "github.com/srediag/shmcopy/internal/shm"
	"github.com/srediag/shmcopy/pkg/health"
	"github.com/srediag/shmcopy/pkg/shm"
)

// NewHealthHandler returns liveness and readiness probes for the sessions in
// reg. When promReg is not nil the check results are also exported as
// Prometheus gauges.
func NewHealthHandler(reg *health.Registry, segmentDir string, promReg prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if promReg != nil {
		h = healthcheck.NewMetricsHandler(promReg, "shmcopy")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck("sessions-progress", reg.LivenessCheck())
	h.AddReadinessCheck("sessions-failed", reg.ReadinessCheck())
	h.AddReadinessCheck("segment-dir", SegmentDirCheck(segmentDir))
	return h
}

// SegmentDirCheck fails when dir cannot hold one more segment.
func SegmentDirCheck(dir string) healthcheck.Check {
	return func() error {
		if !internalshm.HasRoomFor(dir, uint64(shm.SegmentSize)) {
			return fmt.Errorf("%s: %w", dir, shm.ErrNoSpace)
		}
		return nil
	}
}
