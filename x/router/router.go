// Package router moves messages between adapters over named channels.
// Adapters stage messages on their own Endpoint; the supervisor calls Pump
// once per tick to fan staged messages out to subscribers.
package router

import (
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/metrics"
)

// Router owns every adapter endpoint.
type Router struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	limit     int

	log        zerolog.Logger
	deliveries *prometheus.CounterVec
	drops      *prometheus.CounterVec
}

// Option configures a Router.
type Option func(*Router)

// WithQueueLimit overrides DefaultQueueLimit.
func WithQueueLimit(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.limit = n
		}
	}
}

// New creates an empty router.
func New(log zerolog.Logger, opts ...Option) *Router {
	reg := metrics.NewComponentRegistry("router")
	r := &Router{
		endpoints: make(map[string]*Endpoint),
		limit:     DefaultQueueLimit,
		log:       log.With().Str("component", "router").Logger(),
		deliveries: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Messages appended to subscriber inbound queues",
		}, []string{"channel"}),
		drops: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "dropped_total",
			Help: "Messages dropped because a queue was full",
		}, []string{"channel"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach creates a fresh endpoint for name, replacing any previous one.
// Messages still queued on a replaced endpoint are discarded.
func (r *Router) Attach(name string, pubs, subs []string) *Endpoint {
	ep := newEndpoint(name, r.limit, r.onDrop(name))
	ep.SetChannels(pubs, subs)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = ep
	return ep
}

// Detach removes name's endpoint.
func (r *Router) Detach(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, name)
}

// Endpoint returns the endpoint attached under name.
func (r *Router) Endpoint(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names returns attached endpoint names in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Pump pops at most one staged message per (publisher, channel) pair and
// appends it to the inbound queue of every endpoint subscribed to that
// channel. It returns the number of deliveries made. A message with no
// subscribers is dropped.
func (r *Router) Pump() int {
	r.mu.RLock()
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	r.mu.RUnlock()

	slices.SortFunc(eps, func(a, b *Endpoint) int { return strings.Compare(a.name, b.name) })

	total := 0
	for _, pub := range eps {
		for _, s := range pub.popEach() {
			n := 0
			for _, sub := range eps {
				if sub.deliver(s.channel, s.msg) {
					n++
				}
			}
			if n == 0 {
				r.log.Trace().
					Str("channel", s.channel).
					Str("publisher", pub.name).
					Uint64("message_id", s.msg.ID).
					Msg("No subscribers for message")
				continue
			}
			r.deliveries.WithLabelValues(s.channel).Add(float64(n))
			total += n
		}
	}
	return total
}

func (r *Router) onDrop(name string) func(string) {
	return func(channel string) {
		r.drops.WithLabelValues(channel).Inc()
		r.log.Warn().
			Str("endpoint", name).
			Str("channel", channel).
			Msg("Queue full, dropped oldest message")
	}
}
