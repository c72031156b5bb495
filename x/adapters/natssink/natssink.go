// Package natssink delivers buffered records to a NATS JetStream subject in
// batches. A batch counts as delivered only once the stream acknowledges it.
package natssink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/adapters/batchsink"
	"github.com/compose-network/datahub/x/buffer"
	"github.com/compose-network/datahub/x/codec"
	"github.com/compose-network/datahub/x/snapshot"
)

// Type is the registry tag.
const Type = "natssink"

var (
	ErrInvalidConfig = errors.New("natssink: invalid config")
	ErrNoAck         = errors.New("natssink: publish not acknowledged")
)

// Config is the init configuration.
type Config struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"`
	Stream        string        `mapstructure:"stream"`
	Codec         string        `mapstructure:"codec"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxItems      int           `mapstructure:"max_items"`
	Buffer        buffer.Config `mapstructure:"buffer"`
}

// DefaultConfig returns the defaults for unset fields.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Codec:         "json",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		Buffer:        buffer.DefaultConfig(),
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("%w: max_items must not be negative", ErrInvalidConfig)
	}
	return c.Buffer.Validate()
}

// Publisher is the part of jetstream.JetStream the sink uses.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

func init() {
	adapter.Register(Type, New)
}

// New connects to NATS and builds a JetStream sink adapter. When a stream
// name is configured the stream is created or updated to capture the
// subject.
func New(deps adapter.Deps) (adapter.Adapter, error) {
	cfg, err := parseConfig(deps.Init)
	if err != nil {
		return nil, err
	}
	log := deps.Log.With().Str("adapter", deps.Name).Str("type", Type).Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("datahub-"+deps.Name),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if cfg.Stream != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		})
		cancel()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
		}
	}

	a, err := newAdapter(deps, cfg, js, log)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Adapter{Adapter: a, conn: nc}, nil
}

func parseConfig(init snapshot.Settings) (Config, error) {
	cfg := DefaultConfig()
	if err := init.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newAdapter(deps adapter.Deps, cfg Config, pub Publisher, log zerolog.Logger) (*batchsink.Adapter, error) {
	c, ok := codec.NewRegistry().Get(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, cfg.Codec)
	}

	s := &Sink{
		name:     deps.Name,
		subject:  cfg.Subject,
		timeout:  cfg.Timeout,
		codec:    c,
		maxItems: cfg.MaxItems,
		pub:      pub,
		log:      log,
	}

	log.Info().
		Str("url", cfg.URL).
		Str("subject", cfg.Subject).
		Str("stream", cfg.Stream).
		Str("codec", c.Name()).
		Msg("NATS sink initialized")

	return batchsink.New(Type, deps, cfg.Buffer, s)
}

// Adapter is a batch sink that also owns the NATS connection.
type Adapter struct {
	*batchsink.Adapter

	conn *nats.Conn
}

// Close closes the buffer and drains the connection.
func (a *Adapter) Close() error {
	var errs []error
	if err := a.Adapter.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, fmt.Errorf("draining connection: %w", err))
	}
	return errors.Join(errs...)
}

// Sink publishes one encoded batch per Send.
type Sink struct {
	name     string
	subject  string
	timeout  time.Duration
	codec    codec.Codec
	maxItems int
	pub      Publisher
	log      zerolog.Logger
}

// MaxItems implements dispatcher.Sink.
func (s *Sink) MaxItems() int { return s.maxItems }

// Send implements dispatcher.Sink. The message id is a digest of the
// encoded batch, so a retry of the same batch is dropped by the stream while
// a different batch never collides, even across restarts.
func (s *Sink) Send(ctx context.Context, items [][]byte) error {
	records := batchsink.DecodeItems(items, s.log)
	if len(records) == 0 {
		return nil
	}
	data, err := s.codec.Encode(records)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, batchID(s.name, data))

	ack, err := s.pub.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	if ack == nil || ack.Stream == "" {
		return ErrNoAck
	}

	s.log.Debug().
		Str("stream", ack.Stream).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Int("records", len(records)).
		Msg("Batch published")
	return nil
}

// batchID names a batch by its adapter and content. Record ids restart with
// the process and cannot be used.
func batchID(name string, data []byte) string {
	sum := sha256.Sum256(data)
	return name + "-" + hex.EncodeToString(sum[:])
}
