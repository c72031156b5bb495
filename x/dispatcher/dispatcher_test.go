package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/buffer"
)

var errSink = errors.New("sink down")

type stubSink struct {
	mu      sync.Mutex
	limit   int
	fail    bool
	batches [][][]byte
}

func (s *stubSink) Send(_ context.Context, batch [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSink
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubSink) MaxItems() int { return s.limit }

func (s *stubSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubSink) sent() [][][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, sink *stubSink, cfg Config) (*Dispatcher, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	buf := buffer.NewMemory(t.Name(), 100, zerolog.Nop())
	d := New(t.Name(), buf, sink, cfg, zerolog.Nop(), WithClock(clock.Now))
	t.Cleanup(func() { _ = d.Close() })
	return d, clock
}

func addN(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, d.Add([]byte(fmt.Sprintf("%d", i))))
	}
}

func TestFlush_FailureLeavesBufferAndTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{fail: true}
	d, _ := newTestDispatcher(t, sink, Config{BatchSize: 3})
	addN(t, d, 5)

	err := d.Flush(t.Context())
	require.ErrorIs(t, err, errSink)
	assert.Equal(t, 5, d.Size())
	assert.True(t, d.LastSuccess().IsZero())
	assert.Equal(t, 1, d.Stats().ConsecutiveFailures)
}

func TestFlush_SuccessDiscardsBatch(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	d, clock := newTestDispatcher(t, sink, Config{BatchSize: 3})
	addN(t, d, 5)

	require.NoError(t, d.Flush(t.Context()))
	assert.Equal(t, 2, d.Size())
	assert.Equal(t, clock.Now(), d.LastSuccess())

	sent := sink.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, [][]byte{[]byte("0"), []byte("1"), []byte("2")}, sent[0])
}

func TestFlush_SinkLimitCapsBatch(t *testing.T) {
	t.Parallel()

	sink := &stubSink{limit: 2}
	d, _ := newTestDispatcher(t, sink, Config{BatchSize: 10})
	addN(t, d, 5)

	require.NoError(t, d.Flush(t.Context()))
	assert.Equal(t, 3, d.Size())
	assert.Len(t, sink.sent()[0], 2)
}

func TestFlush_EmptyBufferSendsNothing(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	d, _ := newTestDispatcher(t, sink, Config{})

	require.NoError(t, d.Flush(t.Context()))
	assert.Empty(t, sink.sent())
	assert.True(t, d.LastSuccess().IsZero())
}

func TestTick_IntervalGate(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	d, clock := newTestDispatcher(t, sink, Config{BatchSize: 1, Interval: 10 * time.Second})
	addN(t, d, 3)

	require.NoError(t, d.Tick(t.Context()))
	assert.Len(t, sink.sent(), 1)

	clock.Advance(5 * time.Second)
	require.NoError(t, d.Tick(t.Context()))
	assert.Len(t, sink.sent(), 1)

	clock.Advance(5 * time.Second)
	require.NoError(t, d.Tick(t.Context()))
	assert.Len(t, sink.sent(), 2)
}

func TestTick_RetriesAfterRetryInterval(t *testing.T) {
	t.Parallel()

	sink := &stubSink{fail: true}
	d, clock := newTestDispatcher(t, sink, Config{BatchSize: 10, RetryInterval: time.Second})
	addN(t, d, 2)

	require.ErrorIs(t, d.Tick(t.Context()), errSink)

	sink.setFail(false)
	require.NoError(t, d.Tick(t.Context()))
	assert.Empty(t, sink.sent(), "retry must wait for the retry interval")

	clock.Advance(time.Second)
	require.NoError(t, d.Tick(t.Context()))
	require.Len(t, sink.sent(), 1)
	assert.Zero(t, d.Size())
	assert.Zero(t, d.Stats().ConsecutiveFailures)
}

func TestPauseModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode      PauseMode
		addErr    bool
		flushSent bool
	}{
		{mode: PauseOff, addErr: false, flushSent: true},
		{mode: PauseIn, addErr: true, flushSent: true},
		{mode: PauseOut, addErr: false, flushSent: false},
		{mode: PauseAll, addErr: true, flushSent: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			sink := &stubSink{}
			d, _ := newTestDispatcher(t, sink, Config{})
			addN(t, d, 1)

			d.Configure(Config{Pause: tt.mode})

			err := d.Add([]byte("x"))
			if tt.addErr {
				require.ErrorIs(t, err, ErrInputPaused)
			} else {
				require.NoError(t, err)
			}

			require.NoError(t, d.Tick(t.Context()))
			assert.Equal(t, tt.flushSent, len(sink.sent()) == 1)
		})
	}
}

func TestParsePauseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]PauseMode{"": PauseOff, "OFF": PauseOff, "in": PauseIn, " out ": PauseOut, "all": PauseAll} {
		got, err := ParsePauseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePauseMode("sometimes")
	require.ErrorIs(t, err, ErrInvalidPause)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Interval: 30 * time.Second}.withDefaults()
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.RetryInterval)
	assert.Equal(t, PauseOff, cfg.Pause)
}
