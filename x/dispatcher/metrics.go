package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/datahub/metrics"
)

type dispatcherMetrics struct {
	bufferItems *prometheus.GaugeVec
	flushes     *prometheus.CounterVec
	batchSize   *prometheus.HistogramVec
	rejected    *prometheus.CounterVec
}

func newMetrics() *dispatcherMetrics {
	reg := metrics.NewComponentRegistry("dispatcher")

	return &dispatcherMetrics{
		bufferItems: reg.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buffer_items",
			Help: "Items waiting for delivery",
		}, []string{"dispatcher"}),

		flushes: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "flushes_total",
			Help: "Flush attempts by result",
		}, []string{"dispatcher", "result"}),

		batchSize: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Items per delivered batch",
			Buckets: metrics.CountBuckets,
		}, []string{"dispatcher"}),

		rejected: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "rejected_adds_total",
			Help: "Items refused because input was paused",
		}, []string{"dispatcher"}),
	}
}
