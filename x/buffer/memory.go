package buffer

import (
	"sync"

	"github.com/rs/zerolog"
)

type entry struct {
	seq  uint64
	data []byte
}

// Memory is a bounded in-memory FIFO that drops the oldest item on overflow.
type Memory struct {
	name     string
	capacity int
	log      zerolog.Logger
	metrics  *bufferMetrics

	mu     sync.Mutex
	items  []entry
	seq    uint64
	peeked uint64
	closed bool
}

// NewMemory creates a memory buffer holding at most capacity items.
func NewMemory(name string, capacity int, log zerolog.Logger) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		name:     name,
		capacity: capacity,
		log:      log.With().Str("component", "buffer").Str("buffer", name).Logger(),
		metrics:  newBufferMetrics(),
	}
}

// Store appends item, evicting the oldest item first when full.
func (b *Memory) Store(item []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	if len(b.items) >= b.capacity {
		dropped := b.items[0]
		b.items[0] = entry{}
		b.items = b.items[1:]
		b.metrics.recordEviction(b.name, KindMemory)
		b.log.Warn().
			Int("capacity", b.capacity).
			Uint64("seq", dropped.seq).
			Msg("Buffer full, dropped oldest item")
	}

	b.seq++
	b.items = append(b.items, entry{seq: b.seq, data: item})
	return nil
}

// Peek returns up to n oldest items without removing them.
func (b *Memory) Peek(n int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if n <= 0 || len(b.items) == 0 {
		return nil, nil
	}
	n = min(n, len(b.items))

	out := make([][]byte, n)
	for i := range out {
		out[i] = b.items[i].data
	}
	b.peeked = max(b.peeked, b.items[n-1].seq)
	return out, nil
}

// Discard removes up to n oldest items that were returned by Peek.
func (b *Memory) Discard(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	i := 0
	for i < n && i < len(b.items) && b.items[i].seq <= b.peeked {
		b.items[i] = entry{}
		i++
	}
	b.items = b.items[i:]
	return nil
}

func (b *Memory) HasItems() bool { return b.Size() > 0 }

func (b *Memory) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) >= b.capacity
}

func (b *Memory) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close drops all items.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.items = nil
	return nil
}
