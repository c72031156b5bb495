package codec

import (
	"encoding/json"
	"fmt"

	"github.com/compose-network/datahub/x/message"
)

// JSONCodec renders a batch as a JSON array of records.
type JSONCodec struct {
	maxMessageSize int
}

// NewJSONCodec creates a JSON codec bounded by maxMessageSize bytes.
func NewJSONCodec(maxMessageSize int) *JSONCodec {
	return &JSONCodec{maxMessageSize: maxMessageSize}
}

func (c *JSONCodec) Name() string        { return "json" }
func (c *JSONCodec) ContentType() string { return "application/json" }
func (c *JSONCodec) MaxMessageSize() int { return c.maxMessageSize }

// Encode marshals the batch. An empty batch encodes as "[]".
func (c *JSONCodec) Encode(batch []message.Record) ([]byte, error) {
	if batch == nil {
		batch = []message.Record{}
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	if len(data) > c.maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(data), c.maxMessageSize)
	}
	return data, nil
}

// Decode unmarshals a JSON array of records.
func (c *JSONCodec) Decode(data []byte) ([]message.Record, error) {
	if len(data) > c.maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(data), c.maxMessageSize)
	}
	var batch []message.Record
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return batch, nil
}
