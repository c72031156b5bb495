package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/adapter"
	"github.com/compose-network/datahub/x/message"
	"github.com/compose-network/datahub/x/pipeline"
	"github.com/compose-network/datahub/x/router"
	"github.com/compose-network/datahub/x/snapshot"
)

func deps(t *testing.T, name string, init, runtime snapshot.Settings, sources map[string]snapshot.RawSource) adapter.Deps {
	t.Helper()
	snap, err := snapshot.Build(snapshot.HubSettings{}, nil, sources)
	require.NoError(t, err)
	store := snapshot.NewStore(snap)
	return adapter.Deps{
		Name:     name,
		Init:     init,
		Runtime:  runtime,
		Log:      zerolog.Nop(),
		Endpoint: router.New(zerolog.Nop()).Attach(name, nil, nil),
		Store:    store,
		Pipeline: pipeline.New(store, zerolog.Nop()),
	}
}

func TestParseFrame(t *testing.T) {
	t.Parallel()

	q := -71
	tests := []struct {
		name string
		text string
		want Frame
		ok   bool
	}{
		{name: "spaces", text: "7 1 2 3", want: Frame{SourceID: "7", Fields: []string{"1", "2", "3"}}, ok: true},
		{name: "commas", text: "7,1.5,2", want: Frame{SourceID: "7", Fields: []string{"1.5", "2"}}, ok: true},
		{name: "mixed", text: "7, 1 ,2", want: Frame{SourceID: "7", Fields: []string{"1", "2"}}, ok: true},
		{name: "rssi", text: "7 1 2 rssi=-71", want: Frame{SourceID: "7", Fields: []string{"1", "2"}, SignalQuality: &q}, ok: true},
		{name: "malformed rssi stays a field", text: "7 1 rssi=x", want: Frame{SourceID: "7", Fields: []string{"1", "rssi=x"}}, ok: true},
		{name: "id only", text: "7", want: Frame{SourceID: "7", Fields: []string{}}, ok: true},
		{name: "blank", text: " \t", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseFrame(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want.SourceID, got.SourceID)
			assert.Equal(t, tt.want.Fields, got.Fields)
			assert.Equal(t, tt.want.SignalQuality, got.SignalQuality)
		})
	}
}

func TestSource_ReadDecodesDatagram(t *testing.T) {
	t.Parallel()

	src, err := NewSource(deps(t, "radio", snapshot.Settings{"listen": "127.0.0.1:0", "read_timeout": "200ms"}, nil,
		map[string]snapshot.RawSource{"12": {Datacodes: []string{"h"}, Scales: []string{"0.1"}, Names: []string{"temp"}}}))
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.Dial("udp", src.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()

	_, err = conn.Write([]byte("12 215 0 rssi=-60"))
	require.NoError(t, err)

	msg, err := src.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "12", msg.SourceID)
	assert.Equal(t, []string{"temp"}, msg.Names)
	require.Len(t, msg.Values, 1)
	assert.InDelta(t, 21.5, msg.Values[0].Float64(), 1e-9)
	require.NotNil(t, msg.SignalQuality)
	assert.Equal(t, -60, *msg.SignalQuality)
	assert.Equal(t, "12 215 0 rssi=-60", msg.Raw)
}

func TestSource_RejectedFrameYieldsNothing(t *testing.T) {
	t.Parallel()

	src, err := NewSource(deps(t, "radio", snapshot.Settings{"listen": "127.0.0.1:0", "read_timeout": "200ms"},
		snapshot.Settings{"datacode": "h"}, nil))
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.Dial("udp", src.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Three bytes cannot be split into int16 values.
	_, err = conn.Write([]byte("5 1 2 3"))
	require.NoError(t, err)

	msg, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestSource_TimeoutYieldsNothing(t *testing.T) {
	t.Parallel()

	src, err := NewSource(deps(t, "radio", snapshot.Settings{"listen": "127.0.0.1:0", "read_timeout": "5ms"}, nil, nil))
	require.NoError(t, err)
	defer src.Close()

	msg, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestSource_ClosedSocketIsFatal(t *testing.T) {
	t.Parallel()

	src, err := NewSource(deps(t, "radio", snapshot.Settings{"listen": "127.0.0.1:0"}, nil, nil))
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Read(context.Background())
	require.Error(t, err)
	assert.True(t, adapter.IsFatal(err))
}

func TestSink_SendsEncodedPayload(t *testing.T) {
	t.Parallel()

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()

	sink, err := NewSink(deps(t, "relay", snapshot.Settings{"address": ln.LocalAddr().String()},
		snapshot.Settings{"datacode": "B"}, nil))
	require.NoError(t, err)
	defer sink.Close()

	msg := message.New("3", message.WithValues(message.Int(1), message.Int(255)))
	require.NoError(t, sink.Process(context.Background(), msg))

	require.NoError(t, ln.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, err := ln.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 255}, buf[:n])

	encoded, ok := msg.Encoded("relay")
	require.True(t, ok)
	assert.Equal(t, buf[:n], encoded)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSource(deps(t, "a", snapshot.Settings{}, nil, nil))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSink(deps(t, "b", snapshot.Settings{"address": "not an address"}, nil, nil))
	require.ErrorIs(t, err, ErrInvalidConfig)
}
