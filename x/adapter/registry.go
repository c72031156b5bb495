package adapter

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry maps type tags to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var defaultRegistry = NewRegistry()

// Default returns the registry adapters add themselves to in init.
func Default() *Registry { return defaultRegistry }

// Register adds f to the default registry and panics on duplicates. It is
// meant for package init functions.
func Register(typ string, f Factory) {
	if err := defaultRegistry.Register(typ, f); err != nil {
		panic(err)
	}
}

// Register adds a factory for typ. Type tags are case-insensitive.
func (r *Registry) Register(typ string, f Factory) error {
	typ = normalizeType(typ)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, typ)
	}
	r.factories[typ] = f
	return nil
}

// New builds an adapter of type typ.
func (r *Registry) New(typ string, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[normalizeType(typ)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return f(deps)
}

// Types lists registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func normalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}
