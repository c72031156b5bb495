package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/datahub/metrics"
)

// Metrics holds pipeline-level series.
type Metrics struct {
	FramesTotal    *prometheus.CounterVec
	RejectedTotal  *prometheus.CounterVec
	ValuesPerFrame prometheus.Histogram
}

// NewMetrics creates pipeline metrics on the global registry.
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("pipeline")

	return &Metrics{
		FramesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_total",
			Help: "Frames accepted by the decode and encode pipelines",
		}, []string{"stage"}),

		RejectedTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_rejected_total",
			Help: "Frames dropped by the pipelines",
		}, []string{"stage", "reason"}),

		ValuesPerFrame: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "values_per_frame",
			Help:    "Number of values in decoded frames",
			Buckets: metrics.CountBuckets,
		}),
	}
}

func (m *Metrics) recordAccepted(stage string, values int) {
	m.FramesTotal.WithLabelValues(stage).Inc()
	if stage == stageDecode {
		m.ValuesPerFrame.Observe(float64(values))
	}
}

func (m *Metrics) recordRejected(stage string, reason Reason) {
	m.RejectedTotal.WithLabelValues(stage, string(reason)).Inc()
}
