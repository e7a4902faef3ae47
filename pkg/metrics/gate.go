package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GateMetrics instruments internal/iogate.Gate suspend/resume transitions.
type GateMetrics struct {
	pauseOperations *prometheus.CounterVec
	pauseDuration   prometheus.Histogram
	pauseCount      *prometheus.GaugeVec
}

// NewGateMetrics returns nil if metrics are not enabled.
func NewGateMetrics() *GateMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &GateMetrics{
		pauseOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_gate_operations_total",
				Help: "Total number of gate suspend/resume operations by name and outcome",
			},
			[]string{"nexus", "op", "outcome"}, // op: "suspend"/"resume", outcome: "ok"/"timeout"/"error"
		),
		pauseDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "nexus_gate_pause_duration_milliseconds",
				Help: "Duration the gate spent quiesced before resuming",
				Buckets: []float64{
					1, 5, 10, 50, 100, 500, 1000, 5000, 10000,
				},
			},
		),
		pauseCount: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_gate_pause_refcount",
				Help: "Current overlapping-pause refcount per nexus",
			},
			[]string{"nexus"},
		),
	}
}

func (m *GateMetrics) ObserveSuspend(nexusName, outcome string) {
	if m == nil {
		return
	}
	m.pauseOperations.WithLabelValues(nexusName, "suspend", outcome).Inc()
}

func (m *GateMetrics) ObserveResume(nexusName, outcome string, pauseMillis float64) {
	if m == nil {
		return
	}
	m.pauseOperations.WithLabelValues(nexusName, "resume", outcome).Inc()
	m.pauseDuration.Observe(pauseMillis)
}

func (m *GateMetrics) SetPauseCount(nexusName string, count uint32) {
	if m == nil {
		return
	}
	m.pauseCount.WithLabelValues(nexusName).Set(float64(count))
}
