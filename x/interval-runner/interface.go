package intervalrunner

import (
	"context"
	"time"
)

// IntervalRunner invokes the handler on a fixed interval.
type IntervalRunner interface {
	SetHandler(TickCallback)
	// SetInterval changes the period starting with the next tick.
	SetInterval(time.Duration)
	Start(ctx context.Context) error
	// Stop halts the runner and waits for an in-flight handler to return.
	Stop(ctx context.Context) error
}

// TickCallback is the hook invoked by IntervalRunner on each tick.
type TickCallback func(context.Context, TickInfo) error

// TickInfo describes one tick.
type TickInfo struct {
	Seq       uint64
	StartedAt time.Time
	// Missed counts ticks coalesced into this one because the previous
	// handler overran.
	Missed uint64
}
