package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/compose-network/datahub/x/message"
)

var (
	// ErrTooLarge is returned when an encoded frame exceeds the codec limit.
	ErrTooLarge = errors.New("codec: message exceeds max size")
	// ErrEmptyFrame is returned for a zero-length frame on a stream.
	ErrEmptyFrame = errors.New("codec: empty message")
	// ErrShortFrame is returned when data ends before the claimed length.
	ErrShortFrame = errors.New("codec: data too short")
)

// ProtobufCodec writes each record as a length-prefixed protobuf Struct.
// A batch is the concatenation of its frames.
type ProtobufCodec struct {
	maxMessageSize int

	scratchPool sync.Pool
}

// NewProtobufCodec creates a protobuf codec bounded per frame by
// maxMessageSize bytes.
func NewProtobufCodec(maxMessageSize int) *ProtobufCodec {
	return &ProtobufCodec{
		maxMessageSize: maxMessageSize,
		scratchPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

func (c *ProtobufCodec) Name() string        { return "protobuf" }
func (c *ProtobufCodec) ContentType() string { return "application/x-protobuf" }
func (c *ProtobufCodec) MaxMessageSize() int { return c.maxMessageSize }

// Encode frames every record in order.
func (c *ProtobufCodec) Encode(batch []message.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range batch {
		if err := c.EncodeStream(&buf, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode reads frames until data is exhausted.
func (c *ProtobufCodec) Decode(data []byte) ([]message.Record, error) {
	r := bytes.NewReader(data)
	var batch []message.Record
	for r.Len() > 0 {
		rec, err := c.DecodeStream(r)
		if err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	return batch, nil
}

// EncodeStream writes one length-prefixed frame.
func (c *ProtobufCodec) EncodeStream(w io.Writer, rec message.Record) error {
	st, err := recordToStruct(rec)
	if err != nil {
		return err
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	if len(data) > c.maxMessageSize || len(data) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(data), c.maxMessageSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DecodeStream reads one length-prefixed frame.
func (c *ProtobufCodec) DecodeStream(r io.Reader) (message.Record, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return message.Record{}, fmt.Errorf("%w for length prefix", ErrShortFrame)
		}
		return message.Record{}, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if int64(length) > int64(c.maxMessageSize) {
		return message.Record{}, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, length, c.maxMessageSize)
	}
	if length == 0 {
		return message.Record{}, ErrEmptyFrame
	}

	bufPtr := c.scratchPool.Get().(*[]byte)
	defer c.scratchPool.Put(bufPtr)

	buf := *bufPtr
	if cap(buf) < int(length) {
		buf = make([]byte, length)
		*bufPtr = buf
	}
	buf = buf[:length]

	if _, err := io.ReadFull(r, buf); err != nil {
		return message.Record{}, fmt.Errorf("%w for claimed message length", ErrShortFrame)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(buf, &st); err != nil {
		return message.Record{}, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return structToRecord(&st)
}

func recordToStruct(rec message.Record) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":     float64(rec.ID),
		"time":   rec.Time,
		"source": rec.Source,
	}
	if rec.Target != "" {
		fields["target"] = rec.Target
	}
	if len(rec.Names) > 0 {
		names := make([]any, len(rec.Names))
		for i, n := range rec.Names {
			names[i] = n
		}
		fields["names"] = names
	}
	values := make([]any, len(rec.Values))
	for i, v := range rec.Values {
		values[i] = v.Float64()
	}
	fields["values"] = values
	if rec.SignalQuality != nil {
		fields["rssi"] = float64(*rec.SignalQuality)
	}
	if len(rec.Payload) > 0 {
		fields["payload"] = base64.StdEncoding.EncodeToString(rec.Payload)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return st, nil
}

func structToRecord(st *structpb.Struct) (message.Record, error) {
	f := st.GetFields()
	rec := message.Record{
		ID:     uint64(f["id"].GetNumberValue()),
		Time:   f["time"].GetNumberValue(),
		Source: f["source"].GetStringValue(),
		Target: f["target"].GetStringValue(),
	}
	for _, n := range f["names"].GetListValue().GetValues() {
		rec.Names = append(rec.Names, n.GetStringValue())
	}
	for _, v := range f["values"].GetListValue().GetValues() {
		rec.Values = append(rec.Values, message.Number(v.GetNumberValue()))
	}
	if q, ok := f["rssi"]; ok {
		sq := int(q.GetNumberValue())
		rec.SignalQuality = &sq
	}
	if p, ok := f["payload"]; ok {
		payload, err := base64.StdEncoding.DecodeString(p.GetStringValue())
		if err != nil {
			return message.Record{}, fmt.Errorf("failed to decode payload: %w", err)
		}
		rec.Payload = payload
	}
	return rec, nil
}
