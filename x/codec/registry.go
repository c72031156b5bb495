package codec

import (
	"sync"
)

// DefaultMaxMessageSize bounds payloads of the built-in codecs.
const DefaultMaxMessageSize = 10 * 1024 * 1024

// registry implements Registry interface
type registry struct {
	mu       sync.RWMutex
	codecs   map[string]Codec
	fallback string
}

// NewRegistry creates a registry with the json and protobuf codecs; json is
// the default.
func NewRegistry() Registry {
	r := &registry{
		codecs: make(map[string]Codec),
	}

	r.Register(NewJSONCodec(DefaultMaxMessageSize))
	r.Register(NewProtobufCodec(DefaultMaxMessageSize))
	r.fallback = "json"

	return r
}

// Register adds or replaces a codec under its name.
func (r *registry) Register(codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[codec.Name()] = codec
}

// Get retrieves a codec by name. An empty name yields the default.
func (r *registry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	codec, exists := r.codecs[name]
	return codec, exists
}

// Default returns the default codec
func (r *registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codecs[r.fallback]
}
