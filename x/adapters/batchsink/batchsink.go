// Package batchsink is the shared base of sink adapters that buffer
// outbound records and deliver them in batches through a dispatcher.
package batchsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/buffer"
	"github.com/compose-network/datahub/x/dispatcher"
	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/snapshot"
)

// Runtime keys understood by every batch sink, on top of the common ones.
const (
	KeyBatchSize     = "batchsize"
	KeyInterval      = "interval"
	KeyRetryInterval = "retryinterval"
)

// Adapter encodes every delivered message, buffers it as a JSON record and
// lets the dispatcher flush batches to the sink from Action.
type Adapter struct {
	*adapter.BaseAdapter

	dispatcher *dispatcher.Dispatcher
}

// New builds a batch sink adapter of type typ delivering to sink. bufCfg
// selects the buffer; the adapter owns and closes it.
func New(
	typ string,
	deps adapter.Deps,
	bufCfg buffer.Config,
	sink dispatcher.Sink,
	opts ...dispatcher.Option,
) (*Adapter, error) {
	base := adapter.NewBaseAdapter(typ, deps,
		adapter.IntKey(KeyBatchSize, 1),
		adapter.DurationKey(KeyInterval),
		adapter.DurationKey(KeyRetryInterval),
	)

	buf, err := buffer.New(deps.Name, bufCfg, deps.Log)
	if err != nil {
		return nil, fmt.Errorf("opening buffer: %w", err)
	}

	a := &Adapter{BaseAdapter: base}
	a.dispatcher = dispatcher.New(deps.Name, buf, sink, a.dispatcherConfig(), deps.Log, opts...)
	return a, nil
}

// Set applies runtime settings to the base adapter and the dispatcher.
func (a *Adapter) Set(settings snapshot.Settings) {
	a.BaseAdapter.Set(settings)
	a.dispatcher.Configure(a.dispatcherConfig())
}

func (a *Adapter) dispatcherConfig() dispatcher.Config {
	rt := a.Runtime()

	var cfg dispatcher.Config
	if n, ok := rt[KeyBatchSize].(int); ok {
		cfg.BatchSize = n
	}
	if d, ok := rt[KeyInterval].(time.Duration); ok {
		cfg.Interval = d
	}
	if d, ok := rt[KeyRetryInterval].(time.Duration); ok {
		cfg.RetryInterval = d
	}
	cfg.Pause = a.Pause()
	return cfg
}

// Process encodes msg for this sink and buffers it. Rejected frames and
// input-paused drops are logged and counted elsewhere, so they are not
// reported as errors.
func (a *Adapter) Process(_ context.Context, msg *message.Message) error {
	payload, err := a.Pipeline().Encode(msg, a.Name(), a.Defaults())
	if err != nil {
		var rej *pipeline.Rejection
		if errors.As(err, &rej) {
			return nil
		}
		return err
	}

	rec := msg.Record()
	rec.Payload = payload
	item, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	if err := a.dispatcher.Add(item); err != nil {
		if errors.Is(err, dispatcher.ErrInputPaused) {
			a.Log().Debug().Uint64("message_id", msg.ID).Msg("Input paused, message dropped")
			return nil
		}
		return err
	}
	return nil
}

// Action gives the dispatcher a chance to flush.
func (a *Adapter) Action(ctx context.Context) error {
	return a.dispatcher.Tick(ctx)
}

// Close closes the dispatcher and its buffer. Buffered items survive only
// in a persistent buffer.
func (a *Adapter) Close() error {
	return a.dispatcher.Close()
}

// Dispatcher exposes the dispatcher for status reporting and tests.
func (a *Adapter) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Stats reports the dispatcher state.
func (a *Adapter) Stats() map[string]any {
	st := a.dispatcher.Stats()
	out := map[string]any{
		"state":                st.State,
		"pause":                st.Pause,
		"buffer_size":          st.BufferSize,
		"consecutive_failures": st.ConsecutiveFailures,
	}
	if !st.LastSuccess.IsZero() {
		out["last_success"] = st.LastSuccess
	}
	if !st.LastFailure.IsZero() {
		out["last_failure"] = st.LastFailure
	}
	return out
}

// DecodeItems turns buffered items back into records. Items that no longer
// decode are logged and left out, so they are discarded with the rest of the
// batch instead of blocking the head of the buffer.
func DecodeItems(items [][]byte, log zerolog.Logger) []message.Record {
	records := make([]message.Record, 0, len(items))
	for i, item := range items {
		var rec message.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			log.Warn().
				Err(err).
				Int("position", i).
				Int("bytes", len(item)).
				Msg("Dropping undecodable buffered item")
			continue
		}
		records = append(records, rec)
	}
	return records
}
