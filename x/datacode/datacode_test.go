package datacode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/datahub/x/message"
)

func TestRoundTrip_AllCodes(t *testing.T) {
	t.Parallel()

	cases := map[Code][]message.Value{
		Int8:    {message.Int(math.MinInt8), message.Int(-1), message.Int(0), message.Int(math.MaxInt8)},
		Uint8:   {message.Int(0), message.Int(200), message.Int(math.MaxUint8)},
		Int16:   {message.Int(math.MinInt16), message.Int(-50), message.Int(100), message.Int(math.MaxInt16)},
		Uint16:  {message.Int(0), message.Int(math.MaxUint16)},
		Int32:   {message.Int(math.MinInt32), message.Int(123456), message.Int(math.MaxInt32)},
		Uint32:  {message.Int(0), message.Int(math.MaxUint32)},
		Long:    {message.Int(math.MinInt32), message.Int(math.MaxInt32)},
		ULong:   {message.Int(0), message.Int(math.MaxUint32)},
		Int64:   {message.Int(math.MinInt64), message.Int(0), message.Int(math.MaxInt64)},
		Uint64:  {message.Int(0), message.Int(math.MaxInt64), message.Uint(math.MaxUint64)},
		Float32: {message.Float(0.5), message.Float(-1024.25), message.Float(math.MaxFloat32)},
		Float64: {message.Float(math.Pi), message.Float(-1e-300), message.Float(math.MaxFloat64)},
		Bool:    {message.Int(0), message.Int(1)},
		Char:    {message.Int('A'), message.Int(0), message.Int(255)},
	}

	for code, values := range cases {
		width, ok := Width(code)
		require.True(t, ok, "width for %q", code)
		for _, v := range values {
			encoded, err := Encode(code, v)
			require.NoError(t, err, "encode %q %v", code, v)
			require.Len(t, encoded, width)

			decoded, err := Decode(code, encoded)
			require.NoError(t, err, "decode %q %v", code, v)
			assert.Equal(t, v.Float64(), decoded.Float64(), "code %q", code)
			assert.Equal(t, v.IsInt(), decoded.IsInt(), "code %q kind", code)
		}
	}
}

func TestDecode_LittleEndian(t *testing.T) {
	t.Parallel()

	v, err := Decode(Int16, []byte{0x64, 0x00})
	require.NoError(t, err)
	assert.True(t, message.Int(100).Equal(v))

	v, err = Decode(Int16, []byte{0xce, 0xff})
	require.NoError(t, err)
	assert.True(t, message.Int(-50).Equal(v))

	v, err = Decode(Uint32, []byte{0x01, 0x00, 0x00, 0x80})
	require.NoError(t, err)
	assert.True(t, message.Int(0x80000001).Equal(v))
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	_, err := Decode("x", []byte{1})
	require.ErrorIs(t, err, ErrUnknownCode)

	_, err = Decode(Int16, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrWidth)
}

func TestEncode_RangeAndRounding(t *testing.T) {
	t.Parallel()

	_, err := Encode(Int8, message.Int(128))
	require.ErrorIs(t, err, ErrRange)

	_, err = Encode(Uint16, message.Int(-1))
	require.ErrorIs(t, err, ErrRange)

	_, err = Encode(Int64, message.Uint(math.MaxUint64))
	require.ErrorIs(t, err, ErrRange)

	_, err = Encode(Float32, message.Float(1e39))
	require.ErrorIs(t, err, ErrRange)

	b, err := Encode(Int16, message.Float(12.5))
	require.NoError(t, err)
	assert.Equal(t, []byte{13, 0}, b)

	b, err = Encode(Int16, message.Float(-12.4))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xf4, 0xff}, b)

	_, err = Encode("z", message.Int(1))
	require.ErrorIs(t, err, ErrUnknownCode)
}

func TestParse(t *testing.T) {
	t.Parallel()

	c, err := Parse("")
	require.NoError(t, err)
	assert.True(t, c.IsNone())

	c, err = Parse("0")
	require.NoError(t, err)
	assert.True(t, c.IsNone())

	c, err = Parse("h")
	require.NoError(t, err)
	assert.Equal(t, Int16, c)
	assert.False(t, c.IsNone())

	_, err = Parse("hh")
	require.ErrorIs(t, err, ErrUnknownCode)
}
