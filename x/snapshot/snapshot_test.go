package snapshot

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/datacode"
	"github.com/compose-network/datahub/x/message"
)

func TestScale_ApplyKeepsIntegers(t *testing.T) {
	t.Parallel()

	two := MustScale("2")
	got := two.Apply(message.Int(10))
	assert.Equal(t, message.KindInt, got.Kind())
	assert.True(t, message.Int(20).Equal(got))

	one := MustScale("1")
	assert.True(t, one.IsIdentity())
	assert.True(t, message.Int(7).Equal(one.Apply(message.Int(7))))
	assert.True(t, message.Float(2.5).Equal(one.Apply(message.Float(2.5))))
	assert.True(t, message.Int(7).Equal(one.Invert(message.Int(7))))

	tenth := MustScale("0.1")
	assert.Equal(t, message.KindFloat, tenth.Apply(message.Int(215)).Kind())
	assert.InDelta(t, 21.5, tenth.Apply(message.Int(215)).Float64(), 1e-9)

	half := MustScale("0.5")
	assert.True(t, message.Int(5).Equal(half.Apply(message.Int(10))))
}

func TestScale_Invert(t *testing.T) {
	t.Parallel()

	two := MustScale("2")
	assert.True(t, message.Int(10).Equal(two.Invert(message.Int(20))))
	assert.True(t, message.Float(10.5).Equal(two.Invert(message.Int(21))))

	tenth := MustScale("0.1")
	got := tenth.Invert(message.Float(21.5))
	assert.InDelta(t, 215, got.Float64(), 1e-9)
}

func TestScale_OverflowFallsBackToFloat(t *testing.T) {
	t.Parallel()

	got := MustScale("10").Apply(message.Int(math.MaxInt64))
	assert.Equal(t, message.KindFloat, got.Kind())
}

func TestParseScale_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "0", "abc", "NaN", "inf"} {
		_, err := ParseScale(s)
		require.ErrorIs(t, err, ErrInvalidScale, s)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	snap, err := Build(HubSettings{}, map[string]RawAdapter{
		"udp": {Type: "udpsource", Init: map[string]any{"listen_addr": ":5000"}},
	}, map[string]RawSource{
		"010": {Datacodes: []string{"h", "h"}, Scales: []string{"0.1", "1"}, Names: []string{"a", "b"}},
		"20":  {Datacode: "0", Scale: "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultHubSettings(), snap.Hub)
	require.Contains(t, snap.Adapters, "udp")
	assert.Equal(t, ":5000", snap.Adapters["udp"].Init.String("listen_addr"))

	schema, ok := snap.Source("10")
	require.True(t, ok)
	assert.Equal(t, []datacode.Code{datacode.Int16, datacode.Int16}, schema.Datacodes)
	require.Len(t, schema.Scales, 2)
	assert.Nil(t, schema.Scale)
	assert.Nil(t, schema.Datacode)

	schema, ok = snap.Source("20")
	require.True(t, ok)
	require.NotNil(t, schema.Datacode)
	assert.True(t, schema.Datacode.IsNone())
	require.NotNil(t, schema.Scale)
	assert.True(t, schema.Scale.IsIdentity())
}

func TestBuild_Rejects(t *testing.T) {
	t.Parallel()

	_, err := Build(HubSettings{}, map[string]RawAdapter{"x": {}}, nil)
	require.ErrorIs(t, err, ErrInvalidAdapter)

	_, err = Build(HubSettings{}, nil, map[string]RawSource{"1": {Datacodes: []string{"h", "z"}}})
	require.ErrorIs(t, err, datacode.ErrUnknownCode)

	_, err = Build(HubSettings{}, nil, map[string]RawSource{"1": {Datacodes: []string{"h"}, Scales: []string{"1", "2"}}})
	require.ErrorIs(t, err, ErrInvalidScale)
}

func TestStore_SwapVersions(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	first := store.Load()
	require.NotNil(t, first)
	assert.Equal(t, uint64(0), first.Version)

	next := Empty()
	prev := store.Swap(next)
	assert.Same(t, first, prev)
	assert.Same(t, next, store.Load())
	assert.Equal(t, uint64(1), store.Load().Version)
}

func TestSettings_DecodeAndHelpers(t *testing.T) {
	t.Parallel()

	s := Settings{
		"listen_addr": ":9000",
		"timeout":     "2s",
		"batchsize":   "25",
		"channels":    "a,b",
		"interval":    30,
		"enabled":     "true",
	}

	var cfg struct {
		ListenAddr string        `mapstructure:"listen_addr"`
		Timeout    time.Duration `mapstructure:"timeout"`
		BatchSize  int           `mapstructure:"batchsize"`
		Channels   []string      `mapstructure:"channels"`
	}
	require.NoError(t, s.Decode(&cfg))
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, []string{"a", "b"}, cfg.Channels)

	assert.Equal(t, 30*time.Second, s.Duration("interval"))
	assert.Equal(t, 2*time.Second, s.Duration("timeout"))
	assert.True(t, s.Bool("enabled"))
	assert.Equal(t, 25, s.Int("batchsize"))
	assert.Equal(t, []string{"x"}, Settings{"c": "x"}.Strings("c"))
	assert.Equal(t, []string{"x", "y"}, Settings{"c": []any{"x", "y"}}.Strings("c"))
}

func TestSettings_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := Settings{"subchannels": []any{"a"}}
	cp := orig.Clone()
	cp["subchannels"].([]any)[0] = "b"
	assert.Equal(t, "a", orig["subchannels"].([]any)[0])
}
