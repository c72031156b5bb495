// Package metrics owns the process-wide prometheus registry and the helpers
// components use to declare their series.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "datahub"

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Shared bucket layouts.
var (
	CountBuckets    = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	DurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	SizeBuckets     = prometheus.ExponentialBuckets(64, 4, 8)
)

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// ComponentRegistry registers series under one subsystem. Registering the
// same series twice returns the collector registered first, so components
// that are torn down and rebuilt keep their counters.
type ComponentRegistry struct {
	reg       prometheus.Registerer
	subsystem string
}

// NewComponentRegistry returns a registry for subsystem on the global registry.
func NewComponentRegistry(subsystem string) *ComponentRegistry {
	return NewComponentRegistryWith(GetRegistry(), subsystem)
}

// NewComponentRegistryWith is NewComponentRegistry for a caller-owned registerer.
func NewComponentRegistryWith(reg prometheus.Registerer, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{reg: reg, subsystem: subsystem}
}

func register[T prometheus.Collector](r *ComponentRegistry, c T) T {
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewCounter(opts))
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewCounterVec(opts, labels))
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewGauge(opts))
}

func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewGaugeVec(opts, labels))
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewHistogram(opts))
}

func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace, opts.Subsystem = namespace, r.subsystem
	return register(r, prometheus.NewHistogramVec(opts, labels))
}
