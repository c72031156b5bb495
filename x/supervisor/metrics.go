package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/datahub/metrics"
)

type supervisorMetrics struct {
	ticks          prometheus.Counter
	adaptersActive prometheus.Gauge
	restarts       *prometheus.CounterVec
	constructFails *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	tickDuration   prometheus.Histogram
}

func newMetrics() *supervisorMetrics {
	reg := metrics.NewComponentRegistry("supervisor")

	return &supervisorMetrics{
		ticks: reg.NewCounter(prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Supervisor ticks run",
		}),

		adaptersActive: reg.NewGauge(prometheus.GaugeOpts{
			Name: "adapters_active",
			Help: "Adapters with a running loop",
		}),

		restarts: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_restarts_total",
			Help: "Adapters found dead and scheduled for restart",
		}, []string{"adapter"}),

		constructFails: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "adapter_construct_failures_total",
			Help: "Adapter constructions that failed",
		}, []string{"adapter"}),

		reloads: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "reloads_total",
			Help: "Configuration reload attempts by result",
		}, []string{"result"}),

		tickDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "tick_duration_seconds",
			Help:    "Time spent in one supervisor tick",
			Buckets: metrics.DurationBuckets,
		}),
	}
}
