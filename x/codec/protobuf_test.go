package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/message"
)

func sampleRecord() message.Record {
	q := -71
	return message.Record{
		ID:            42,
		Time:          1700000000.25,
		Source:        "7",
		Target:        "9",
		Names:         []string{"temp", "hum"},
		Values:        []message.Value{message.Int(21), message.Float(48.5)},
		SignalQuality: &q,
		Payload:       []byte{0x15, 0x00},
	}
}

func TestProtobufCodec_EncodeDecode_Roundtrip(t *testing.T) {
	t.Parallel()

	c := NewProtobufCodec(1 << 20)
	in := []message.Record{sampleRecord(), {ID: 43, Source: "8", Values: []message.Value{message.Int(-3)}}}

	data, err := c.Encode(in)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	out, err := c.Decode(data)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, in[0].ID, out[0].ID)
	assert.InDelta(t, in[0].Time, out[0].Time, 1e-6)
	assert.Equal(t, in[0].Source, out[0].Source)
	assert.Equal(t, in[0].Target, out[0].Target)
	assert.Equal(t, in[0].Names, out[0].Names)
	assert.Equal(t, in[0].Payload, out[0].Payload)
	require.NotNil(t, out[0].SignalQuality)
	assert.Equal(t, -71, *out[0].SignalQuality)
	require.Len(t, out[0].Values, 2)
	assert.True(t, message.Int(21).Equal(out[0].Values[0]))
	assert.True(t, message.Float(48.5).Equal(out[0].Values[1]))

	assert.Nil(t, out[1].SignalQuality)
	assert.True(t, message.Int(-3).Equal(out[1].Values[0]))
}

func TestProtobufCodec_EncodeStream_DecodeStream(t *testing.T) {
	t.Parallel()

	c := NewProtobufCodec(1 << 20)
	buf := new(bytes.Buffer)

	require.NoError(t, c.EncodeStream(buf, sampleRecord()))

	out, err := c.DecodeStream(buf)
	require.NoError(t, err)
	assert.Equal(t, "7", out.Source)
	assert.Zero(t, buf.Len())
}

func TestProtobufCodec_MaxSizeExceeded_OnEncode(t *testing.T) {
	t.Parallel()

	c := NewProtobufCodec(16)

	_, err := c.Encode([]message.Record{sampleRecord()})
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestProtobufCodec_Decode_TruncatedPayload(t *testing.T) {
	t.Parallel()

	c := NewProtobufCodec(1024)

	data := make([]byte, 4+6)
	binary.BigEndian.PutUint32(data[:4], 10)
	copy(data[4:], "123456")

	_, err := c.Decode(data)
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestProtobufCodec_DecodeStream_Empty(t *testing.T) {
	t.Parallel()

	c := NewProtobufCodec(1024)
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})

	_, err := c.DecodeStream(buf)
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestJSONCodec_Roundtrip(t *testing.T) {
	t.Parallel()

	c := NewJSONCodec(1 << 20)

	data, err := c.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = c.Encode([]message.Record{sampleRecord()})
	require.NoError(t, err)

	out, err := c.Decode(data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, sampleRecord().Payload, out[0].Payload)
	assert.True(t, message.Float(48.5).Equal(out[0].Values[1]))

	_, err = NewJSONCodec(8).Encode([]message.Record{sampleRecord()})
	require.ErrorIs(t, err, ErrTooLarge)
}
