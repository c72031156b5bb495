package intervalrunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalIntervalRunnerTicksRepeatedly(t *testing.T) {
	t.Parallel()

	events := make(chan TickInfo, 16)
	cfg := DefaultConfig(zerolog.Nop())
	cfg.Interval = 5 * time.Millisecond
	cfg.Handler = func(_ context.Context, info TickInfo) error {
		select {
		case events <- info:
		default:
		}
		return nil
	}
	runner := NewLocalIntervalRunner(cfg)

	require.NoError(t, runner.Start(t.Context()))
	defer runner.Stop(context.Background())

	for want := uint64(1); want <= 3; want++ {
		select {
		case info := <-events:
			require.Equal(t, want, info.Seq)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for tick %d", want)
		}
	}
}

func TestLocalIntervalRunnerNeverOverlaps(t *testing.T) {
	t.Parallel()

	var (
		running atomic.Int32
		overlap atomic.Bool
		calls   atomic.Int32
	)
	runner := NewLocalIntervalRunner(Config{
		Interval: time.Millisecond,
		Logger:   zerolog.Nop(),
		Handler: func(context.Context, TickInfo) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(3 * time.Millisecond)
			running.Add(-1)
			calls.Add(1)
			return nil
		},
	})

	require.NoError(t, runner.Start(t.Context()))
	require.Eventually(t, func() bool { return calls.Load() >= 5 }, 2*time.Second, time.Millisecond)
	require.NoError(t, runner.Stop(context.Background()))

	assert.False(t, overlap.Load())
}

func TestLocalIntervalRunnerCoalescesMissedTicks(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		infos []TickInfo
	)
	runner := NewLocalIntervalRunner(Config{
		Interval: 5 * time.Millisecond,
		Logger:   zerolog.Nop(),
		Handler: func(_ context.Context, info TickInfo) error {
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
			if info.Seq == 1 {
				time.Sleep(30 * time.Millisecond)
			}
			return nil
		},
	})

	require.NoError(t, runner.Start(t.Context()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(infos) >= 2
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, runner.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(2), infos[1].Seq)
	assert.GreaterOrEqual(t, infos[1].Missed, uint64(1))
}

func TestLocalIntervalRunnerStopWaitsForInFlightTick(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	runner := NewLocalIntervalRunner(Config{
		Interval: time.Hour,
		Logger:   zerolog.Nop(),
		Handler: func(context.Context, TickInfo) error {
			close(entered)
			<-release
			finished.Store(true)
			return nil
		},
	})
	require.NoError(t, runner.Start(t.Context()))
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- runner.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the tick finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.True(t, finished.Load())
}

func TestLocalIntervalRunnerHandlerErrorKeepsTicking(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	runner := NewLocalIntervalRunner(Config{
		Interval: time.Millisecond,
		Logger:   zerolog.Nop(),
		Handler: func(context.Context, TickInfo) error {
			calls.Add(1)
			return errors.New("tick failed")
		},
	})

	require.NoError(t, runner.Start(t.Context()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, runner.Stop(context.Background()))
}

func TestLocalIntervalRunnerSetInterval(t *testing.T) {
	t.Parallel()

	runner := NewLocalIntervalRunner(Config{Logger: zerolog.Nop()})
	assert.Equal(t, DefaultInterval, runner.Interval())

	runner.SetInterval(time.Second)
	assert.Equal(t, time.Second, runner.Interval())

	runner.SetInterval(0)
	assert.Equal(t, time.Second, runner.Interval())
}

func TestLocalIntervalRunnerStartWithoutHandlerPanics(t *testing.T) {
	t.Parallel()

	runner := NewLocalIntervalRunner(Config{Logger: zerolog.Nop()})
	assert.Panics(t, func() { _ = runner.Start(context.Background()) })
}
