package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RebuildMetrics instruments internal/rebuild.Job progress and outcome.
type RebuildMetrics struct {
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	blocksTotal  *prometheus.GaugeVec
	blocksDone   *prometheus.GaugeVec
	segmentRetry *prometheus.CounterVec
	activeJobs   prometheus.Gauge
}

// NewRebuildMetrics returns nil if metrics are not enabled.
func NewRebuildMetrics() *RebuildMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &RebuildMetrics{
		jobsStarted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_rebuild_jobs_started_total",
				Help: "Total number of rebuild jobs started by strategy",
			},
			[]string{"strategy"}, // "full"/"partial"/"partial_sequential"
		),
		jobsFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_rebuild_jobs_finished_total",
				Help: "Total number of rebuild jobs reaching a terminal state",
			},
			[]string{"state"}, // "completed"/"failed"/"stopped"
		),
		blocksTotal: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_rebuild_blocks_total",
				Help: "Total blocks targeted by the active rebuild per destination",
			},
			[]string{"dest_uri"},
		),
		blocksDone: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_rebuild_blocks_recovered",
				Help: "Blocks copied so far by the active rebuild per destination",
			},
			[]string{"dest_uri"},
		),
		segmentRetry: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_rebuild_segment_errors_total",
				Help: "Total number of segment copy failures by stage",
			},
			[]string{"stage"}, // "read"/"write"/"verify"
		),
		activeJobs: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_rebuild_active_jobs",
				Help: "Current number of in-flight rebuild jobs",
			},
		),
	}
}

func (m *RebuildMetrics) RecordStart(strategy string) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(strategy).Inc()
	m.activeJobs.Inc()
}

func (m *RebuildMetrics) RecordFinish(destURI, state string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(state).Inc()
	m.activeJobs.Dec()
	m.blocksTotal.DeleteLabelValues(destURI)
	m.blocksDone.DeleteLabelValues(destURI)
}

func (m *RebuildMetrics) SetProgress(destURI string, total, done uint64) {
	if m == nil {
		return
	}
	m.blocksTotal.WithLabelValues(destURI).Set(float64(total))
	m.blocksDone.WithLabelValues(destURI).Set(float64(done))
}

func (m *RebuildMetrics) RecordSegmentError(stage string) {
	if m == nil {
		return
	}
	m.segmentRetry.WithLabelValues(stage).Inc()
}
