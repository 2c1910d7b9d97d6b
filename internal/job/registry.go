package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps job types to handlers. It is filled once at process start,
// frozen, and then only read, concurrently, by the worker loops.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	frozen   bool
}

// NewRegistry creates an empty, writable registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

// NewRegistryFrom registers every handler in handlers and freezes the registry.
func NewRegistryFrom(handlers map[Type]Handler) (*Registry, error) {
	r := NewRegistry()

	types := make([]Type, 0, len(handlers))
	for t := range handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, k int) bool { return types[i] < types[k] })

	for _, t := range types {
		if err := r.Register(t, handlers[t]); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Register binds handler to t. The type must exist in the catalog and must
// not already have a handler.
func (r *Registry) Register(t Type, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("register %q: nil handler", t)
	}
	if _, err := LookupType(t); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", t, ErrRegistryFrozen)
	}
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, t)
	}
	r.handlers[t] = handler
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the handler registered for t.
func (r *Registry) Lookup(t Type) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	return h, nil
}

// Has reports whether t has a handler.
func (r *Registry) Has(t Type) bool {
	_, err := r.Lookup(t)
	return err == nil
}

// Types returns the registered types in name order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, k int) bool { return types[i] < types[k] })
	return types
}

// IsConfigurationError reports whether err is a startup configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrDuplicateHandler) || errors.Is(err, ErrUnknownJobType) || errors.Is(err, ErrRegistryFrozen)
}
