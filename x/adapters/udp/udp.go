// Package udp provides a datagram source that decodes text frames into
// messages and a datagram sink that sends each message's encoded payload.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/datahub/metrics"
	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/pipeline"
)

// Registry tags.
const (
	SourceType = "udpsource"
	SinkType   = "udpsink"
)

const (
	maxDatagram = 64 * 1024
	rssiPrefix  = "rssi="
)

var ErrInvalidConfig = errors.New("udp: invalid config")

type udpMetrics struct {
	datagrams *prometheus.CounterVec
	bytes     *prometheus.CounterVec
}

func newMetrics() *udpMetrics {
	reg := metrics.NewComponentRegistry("udp")
	return &udpMetrics{
		datagrams: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "datagrams_total",
			Help: "Datagrams received or sent",
		}, []string{"adapter", "direction"}),
		bytes: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "bytes_total",
			Help: "Datagram bytes received or sent",
		}, []string{"adapter", "direction"}),
	}
}

func (m *udpMetrics) record(name, direction string, n int) {
	m.datagrams.WithLabelValues(name, direction).Inc()
	m.bytes.WithLabelValues(name, direction).Add(float64(n))
}

func init() {
	adapter.Register(SourceType, func(deps adapter.Deps) (adapter.Adapter, error) { return NewSource(deps) })
	adapter.Register(SinkType, func(deps adapter.Deps) (adapter.Adapter, error) { return NewSink(deps) })
}

// SourceConfig is the udpsource init configuration.
type SourceConfig struct {
	Listen      string        `mapstructure:"listen"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Source listens for text frames "<sourceId> f1 f2 ... [rssi=<n>]", fields
// separated by spaces or commas.
type Source struct {
	*adapter.BaseAdapter

	conn        *net.UDPConn
	buf         []byte
	readTimeout time.Duration
	metrics     *udpMetrics
}

// NewSource binds the listen address.
func NewSource(deps adapter.Deps) (*Source, error) {
	cfg := SourceConfig{ReadTimeout: 10 * time.Millisecond}
	if err := deps.Init.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Listen == "" {
		return nil, fmt.Errorf("%w: listen is required", ErrInvalidConfig)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("%w: read_timeout must be positive", ErrInvalidConfig)
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("%w: listen: %w", ErrInvalidConfig, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	s := &Source{
		BaseAdapter: adapter.NewBaseAdapter(SourceType, deps),
		conn:        conn,
		buf:         make([]byte, maxDatagram),
		readTimeout: cfg.ReadTimeout,
		metrics:     newMetrics(),
	}
	s.Log().Info().Str("listen", conn.LocalAddr().String()).Msg("UDP source listening")
	return s, nil
}

// Addr returns the bound address.
func (s *Source) Addr() net.Addr { return s.conn.LocalAddr() }

// Read waits up to the read timeout for one datagram. Rejected and empty
// frames yield no message.
func (s *Source) Read(context.Context) (*message.Message, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, adapter.Fatal(err)
	}

	n, from, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, adapter.Fatal(err)
		}
		return nil, err
	}
	s.metrics.record(s.Name(), "in", n)

	text := strings.TrimSpace(string(s.buf[:n]))
	frame, ok := ParseFrame(text)
	if !ok {
		s.Log().Debug().Stringer("from", from).Msg("Empty datagram ignored")
		return nil, nil
	}

	opts := []message.Option{message.WithRaw(text)}
	if frame.SignalQuality != nil {
		opts = append(opts, message.WithSignalQuality(*frame.SignalQuality))
	}

	msg, err := s.Pipeline().Decode(frame.SourceID, frame.Fields, s.Defaults(), opts...)
	if err != nil {
		var rej *pipeline.Rejection
		if errors.As(err, &rej) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// Close releases the socket.
func (s *Source) Close() error { return s.conn.Close() }

// Frame is one parsed text datagram.
type Frame struct {
	SourceID      string
	Fields        []string
	SignalQuality *int
}

// ParseFrame splits a text datagram. A trailing rssi=<n> field becomes the
// signal quality; a malformed one is kept as a value field so the pipeline
// rejects the frame.
func ParseFrame(text string) (Frame, bool) {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) == 0 {
		return Frame{}, false
	}

	f := Frame{SourceID: fields[0], Fields: fields[1:]}
	if n := len(f.Fields); n > 0 {
		last := f.Fields[n-1]
		if len(last) > len(rssiPrefix) && strings.EqualFold(last[:len(rssiPrefix)], rssiPrefix) {
			if q, err := strconv.Atoi(last[len(rssiPrefix):]); err == nil {
				f.SignalQuality = &q
				f.Fields = f.Fields[:n-1]
			}
		}
	}
	return f, true
}

// SinkConfig is the udpsink init configuration.
type SinkConfig struct {
	Address string `mapstructure:"address"`
}

// Sink sends every delivered message, encoded for this adapter, as one
// datagram.
type Sink struct {
	*adapter.BaseAdapter

	conn    *net.UDPConn
	metrics *udpMetrics
}

// NewSink dials the destination address.
func NewSink(deps adapter.Deps) (*Sink, error) {
	var cfg SinkConfig
	if err := deps.Init.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: address: %w", ErrInvalidConfig, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Address, err)
	}

	s := &Sink{
		BaseAdapter: adapter.NewBaseAdapter(SinkType, deps),
		conn:        conn,
		metrics:     newMetrics(),
	}
	s.Log().Info().Str("address", addr.String()).Msg("UDP sink ready")
	return s, nil
}

// Process encodes msg and sends it. Rejected frames are dropped.
func (s *Sink) Process(_ context.Context, msg *message.Message) error {
	payload, err := s.Pipeline().Encode(msg, s.Name(), s.Defaults())
	if err != nil {
		var rej *pipeline.Rejection
		if errors.As(err, &rej) {
			return nil
		}
		return err
	}

	n, err := s.conn.Write(payload)
	if err != nil {
		return fmt.Errorf("sending datagram: %w", err)
	}
	s.metrics.record(s.Name(), "out", n)
	return nil
}

// Close releases the socket.
func (s *Sink) Close() error { return s.conn.Close() }

var (
	_ adapter.Adapter = (*Source)(nil)
	_ adapter.Adapter = (*Sink)(nil)
)
