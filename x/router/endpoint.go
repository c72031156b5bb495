package router

import (
	"slices"
	"sync"

	"github.com/compose-network/datahub/x/message"
)

// DefaultQueueLimit bounds each staging list and each inbound queue. When a
// queue is full the oldest entry is dropped.
const DefaultQueueLimit = 1024

// Endpoint is one adapter's attachment to the router. The owning adapter
// only appends to its staging lists and drains its inbound queue; the router
// moves messages between endpoints.
type Endpoint struct {
	name   string
	limit  int
	onDrop func(channel string)

	mu      sync.Mutex
	pubs    []string
	subs    []string
	staging map[string][]*message.Message
	inbound []*message.Message
}

func newEndpoint(name string, limit int, onDrop func(string)) *Endpoint {
	return &Endpoint{
		name:    name,
		limit:   limit,
		onDrop:  onDrop,
		staging: make(map[string][]*message.Message),
	}
}

// Name returns the owning adapter name.
func (e *Endpoint) Name() string { return e.name }

// SetChannels replaces the publish and subscribe channel lists. Staged
// messages on channels no longer published are kept until pumped.
func (e *Endpoint) SetChannels(pubs, subs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pubs = normalize(pubs)
	e.subs = normalize(subs)
}

// Publications returns the configured publish channels.
func (e *Endpoint) Publications() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pubs)
}

// Subscriptions returns the configured subscribe channels.
func (e *Endpoint) Subscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.subs)
}

// Subscribed reports whether the endpoint listens on channel.
func (e *Endpoint) Subscribed(channel string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := slices.BinarySearch(e.subs, channel)
	return ok
}

// Publish stages msg on one channel.
func (e *Endpoint) Publish(channel string, msg *message.Message) {
	if channel == "" || msg == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stage(channel, msg)
}

// PublishAll stages msg on every configured publish channel.
func (e *Endpoint) PublishAll(msg *message.Message) {
	if msg == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.pubs {
		e.stage(ch, msg)
	}
}

func (e *Endpoint) stage(channel string, msg *message.Message) {
	q := e.staging[channel]
	if len(q) >= e.limit {
		q = q[1:]
		e.dropped(channel)
	}
	e.staging[channel] = append(q, msg)
}

// Drain removes and returns everything delivered to this endpoint, oldest
// first.
func (e *Endpoint) Drain() []*message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.inbound
	e.inbound = nil
	return out
}

// Pending returns the number of staged messages across channels.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.staging {
		n += len(q)
	}
	return n
}

// Inbound returns the number of delivered, not yet drained messages.
func (e *Endpoint) Inbound() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inbound)
}

// popEach removes the head of every non-empty staging list, in channel name
// order.
func (e *Endpoint) popEach() []staged {
	e.mu.Lock()
	defer e.mu.Unlock()

	channels := make([]string, 0, len(e.staging))
	for ch := range e.staging {
		channels = append(channels, ch)
	}
	slices.Sort(channels)

	out := make([]staged, 0, len(channels))
	for _, ch := range channels {
		q := e.staging[ch]
		if len(q) == 0 {
			delete(e.staging, ch)
			continue
		}
		out = append(out, staged{channel: ch, msg: q[0]})
		q[0] = nil
		if len(q) == 1 {
			delete(e.staging, ch)
		} else {
			e.staging[ch] = q[1:]
		}
	}
	return out
}

func (e *Endpoint) deliver(channel string, msg *message.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := slices.BinarySearch(e.subs, channel); !ok {
		return false
	}
	if len(e.inbound) >= e.limit {
		e.inbound = e.inbound[1:]
		e.dropped(channel)
	}
	e.inbound = append(e.inbound, msg)
	return true
}

func (e *Endpoint) dropped(channel string) {
	if e.onDrop != nil {
		e.onDrop(channel)
	}
}

type staged struct {
	channel string
	msg     *message.Message
}

func normalize(channels []string) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch != "" {
			out = append(out, ch)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
