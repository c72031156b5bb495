// Package codec frames batches of message records for remote sinks.
package codec

import (
	"io"

	"github.com/compose-network/datahub/x/message"
)

// Codec turns a batch of records into one wire payload and back.
type Codec interface {
	Name() string
	ContentType() string
	Encode(batch []message.Record) ([]byte, error)
	Decode(data []byte) ([]message.Record, error)
	MaxMessageSize() int
}

// StreamCodec extends Codec with per-record streaming.
type StreamCodec interface {
	Codec
	EncodeStream(w io.Writer, rec message.Record) error
	DecodeStream(r io.Reader) (message.Record, error)
}

// Registry resolves codecs by name.
type Registry interface {
	Register(codec Codec)
	Get(name string) (Codec, bool)
	Default() Codec
}
