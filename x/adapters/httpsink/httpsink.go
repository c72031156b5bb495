// Package httpsink delivers buffered records to an HTTP endpoint in
// batches. A batch counts as delivered only on a 2xx response and, when an
// acknowledgement body is configured, only when the body matches it.
package httpsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/adapters/batchsink"
	"github.com/compose-network/datahub/x/buffer"
	"github.com/compose-network/datahub/x/codec"
)

// Type is the registry tag.
const Type = "httpsink"

// BatchIDHeader carries a unique id per delivery attempt.
const BatchIDHeader = "X-Batch-Id"

var (
	ErrInvalidConfig = errors.New("httpsink: invalid config")
	ErrRejected      = errors.New("httpsink: batch rejected")
)

// Config is the init configuration.
type Config struct {
	URL       string            `mapstructure:"url"`
	Codec     string            `mapstructure:"codec"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Headers   map[string]string `mapstructure:"headers"`
	ExpectAck string            `mapstructure:"expect_ack"`
	MaxItems  int               `mapstructure:"max_items"`
	Buffer    buffer.Config     `mapstructure:"buffer"`
}

// DefaultConfig returns the defaults for unset fields.
func DefaultConfig() Config {
	return Config{
		Codec:   "json",
		Timeout: 10 * time.Second,
		Buffer:  buffer.DefaultConfig(),
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("%w: max_items must not be negative", ErrInvalidConfig)
	}
	return c.Buffer.Validate()
}

func init() {
	adapter.Register(Type, func(deps adapter.Deps) (adapter.Adapter, error) {
		return New(deps, nil)
	})
}

// New builds an HTTP sink adapter. A nil client gets one with the
// configured timeout.
func New(deps adapter.Deps, client *http.Client) (*batchsink.Adapter, error) {
	cfg := DefaultConfig()
	if err := deps.Init.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c, ok := codec.NewRegistry().Get(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, cfg.Codec)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	s := &Sink{
		url:       cfg.URL,
		codec:     c,
		headers:   cfg.Headers,
		expectAck: cfg.ExpectAck,
		maxItems:  cfg.MaxItems,
		client:    client,
		log:       deps.Log.With().Str("adapter", deps.Name).Str("type", Type).Logger(),
	}

	s.log.Info().
		Str("url", cfg.URL).
		Str("codec", c.Name()).
		Dur("timeout", client.Timeout).
		Str("buffer", string(cfg.Buffer.Type)).
		Msg("HTTP sink initialized")

	return batchsink.New(Type, deps, cfg.Buffer, s)
}

// Sink posts one encoded batch per Send.
type Sink struct {
	url       string
	codec     codec.Codec
	headers   map[string]string
	expectAck string
	maxItems  int
	client    *http.Client
	log       zerolog.Logger
}

// MaxItems implements dispatcher.Sink.
func (s *Sink) MaxItems() int { return s.maxItems }

// Send implements dispatcher.Sink.
func (s *Sink) Send(ctx context.Context, items [][]byte) error {
	records := batchsink.DecodeItems(items, s.log)
	if len(records) == 0 {
		return nil
	}
	body, err := s.codec.Encode(records)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("prepare request: %w", err)
	}
	batchID := uuid.NewString()
	req.Header.Set("Content-Type", s.codec.ContentType())
	req.Header.Set(BatchIDHeader, batchID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer res.Body.Close()

	reply, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: %s", ErrRejected, res.Status, strings.TrimSpace(string(reply)))
	}
	if readErr != nil {
		// Without the reply the acknowledgement cannot be checked, so the
		// batch stays buffered.
		if s.expectAck != "" {
			return fmt.Errorf("read acknowledgement: %w", readErr)
		}
		s.log.Warn().Err(readErr).Str("batch_id", batchID).Msg("Failed to read reply body")
	}
	if s.expectAck != "" && strings.TrimSpace(string(reply)) != s.expectAck {
		return fmt.Errorf("%w: unexpected acknowledgement %q", ErrRejected, strings.TrimSpace(string(reply)))
	}

	s.log.Debug().
		Str("batch_id", batchID).
		Int("records", len(records)).
		Int("bytes", len(body)).
		Msg("Batch posted")
	return nil
}
