package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChannelMetrics instruments internal/iochannel.Channel read/write fan-out.
type ChannelMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.HistogramVec
	readerSel  *prometheus.CounterVec
	refreshes  prometheus.Counter
}

// NewChannelMetrics returns nil if metrics are not enabled.
func NewChannelMetrics() *ChannelMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &ChannelMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_channel_operations_total",
				Help: "Total number of channel I/O operations by kind and outcome",
			},
			[]string{"op", "outcome"}, // op: "read"/"write"/"flush", outcome: "ok"/"no_reader"/"no_writer"/"error"
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nexus_channel_duration_milliseconds",
				Help: "Duration of channel I/O operations",
				Buckets: []float64{
					0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000,
				},
			},
			[]string{"op"},
		),
		bytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nexus_channel_bytes",
				Help: "Distribution of bytes moved per channel operation",
				Buckets: []float64{
					512, 4096, 32768, 131072, 524288, 1048576, 4194304,
				},
			},
			[]string{"op"},
		),
		readerSel: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_channel_reader_selection_total",
				Help: "Total number of times each reader index served a read",
			},
			[]string{"reader_index"},
		),
		refreshes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_channel_refresh_total",
				Help: "Total number of channel refresh broadcasts",
			},
		),
	}
}

func (m *ChannelMetrics) ObserveRead(readerIdx int, bytes int64, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("read", outcome).Inc()
	m.duration.WithLabelValues("read").Observe(float64(d.Microseconds()) / 1000)
	if bytes > 0 {
		m.bytes.WithLabelValues("read").Observe(float64(bytes))
		m.readerSel.WithLabelValues(strconv.Itoa(readerIdx)).Inc()
	}
}

func (m *ChannelMetrics) ObserveWrite(bytes int64, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("write", outcome).Inc()
	m.duration.WithLabelValues("write").Observe(float64(d.Microseconds()) / 1000)
	if bytes > 0 {
		m.bytes.WithLabelValues("write").Observe(float64(bytes))
	}
}

func (m *ChannelMetrics) ObserveFlush(d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("flush", outcome).Inc()
	m.duration.WithLabelValues("flush").Observe(float64(d.Microseconds()) / 1000)
}

func (m *ChannelMetrics) RecordRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}
