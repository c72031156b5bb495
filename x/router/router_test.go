package router

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/message"
)

func TestPump_FanOutToSubscribersOnly(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop())
	pub := r.Attach("pub", []string{"X"}, nil)
	subs := []*Endpoint{
		r.Attach("a", nil, []string{"X"}),
		r.Attach("b", nil, []string{"X", "Y"}),
		r.Attach("c", nil, []string{"X"}),
	}
	other := r.Attach("d", nil, []string{"Y"})

	msg := message.New("1", message.WithValues(message.Int(1)))
	pub.PublishAll(msg)

	assert.Equal(t, 3, r.Pump())
	for _, s := range subs {
		got := s.Drain()
		require.Len(t, got, 1, s.Name())
		assert.Same(t, msg, got[0])
	}
	assert.Empty(t, other.Drain())
	assert.Zero(t, pub.Pending())
}

func TestPump_OnePerPairPerTickFIFO(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop())
	pub := r.Attach("pub", []string{"X", "Y"}, nil)
	sub := r.Attach("sub", nil, []string{"X", "Y"})

	first := message.New("1")
	second := message.New("1")
	pub.Publish("X", first)
	pub.Publish("X", second)
	third := message.New("2")
	pub.Publish("Y", third)

	assert.Equal(t, 2, r.Pump())
	got := sub.Drain()
	require.Len(t, got, 2)
	assert.Same(t, first, got[0])
	assert.Same(t, third, got[1])
	assert.Equal(t, 1, pub.Pending())

	assert.Equal(t, 1, r.Pump())
	got = sub.Drain()
	require.Len(t, got, 1)
	assert.Same(t, second, got[0])

	assert.Zero(t, r.Pump())
}

func TestPump_NoSubscribersDrops(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop())
	pub := r.Attach("pub", []string{"X"}, nil)
	pub.PublishAll(message.New("1"))

	assert.Zero(t, r.Pump())
	assert.Zero(t, pub.Pending())
}

func TestEndpoint_QueueLimitDropsOldest(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop(), WithQueueLimit(2))
	pub := r.Attach("pub", []string{"X"}, nil)

	msgs := []*message.Message{message.New("1"), message.New("1"), message.New("1")}
	for _, m := range msgs {
		pub.PublishAll(m)
	}
	assert.Equal(t, 2, pub.Pending())

	sub := r.Attach("sub", nil, []string{"X"})
	r.Pump()
	r.Pump()
	got := sub.Drain()
	require.Len(t, got, 2)
	assert.Same(t, msgs[1], got[0])
	assert.Same(t, msgs[2], got[1])
}

func TestEndpoint_SetChannels(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop())
	ep := r.Attach("a", []string{"b", "a", "a", ""}, []string{"z"})
	assert.Equal(t, []string{"a", "b"}, ep.Publications())
	assert.True(t, ep.Subscribed("z"))

	ep.SetChannels(nil, []string{"y"})
	assert.Empty(t, ep.Publications())
	assert.False(t, ep.Subscribed("z"))
	assert.True(t, ep.Subscribed("y"))
}

func TestAttachReplacesAndDetach(t *testing.T) {
	t.Parallel()

	r := New(zerolog.Nop())
	old := r.Attach("a", []string{"X"}, nil)
	old.PublishAll(message.New("1"))

	fresh := r.Attach("a", []string{"X"}, nil)
	got, ok := r.Endpoint("a")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Zero(t, fresh.Pending())

	r.Detach("a")
	_, ok = r.Endpoint("a")
	assert.False(t, ok)
	assert.Empty(t, r.Names())
}
