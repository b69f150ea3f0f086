// Package registry holds the shared service singletons handed out by the
// coordinator.
//
// Each name is written once. Every Get for that name returns the identical
// value until Invalidate is called, after which the registry refuses lookups
// until Reset.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a name is registered twice.
	ErrAlreadyRegistered = errors.New("registry: service already registered")

	// ErrServiceUnavailable is returned for a name that has not been
	// registered yet, typically because its phase has not completed.
	ErrServiceUnavailable = errors.New("registry: service unavailable")

	// ErrInvalidated is returned by every lookup after Invalidate.
	ErrInvalidated = errors.New("registry: invalidated")
)

// Registry is a write-once map of shared services. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	services    map[string]any
	invalidated bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]any)}
}

// Register stores svc under name.
func (r *Registry) Register(name string, svc any) error {
	if name == "" || svc == nil {
		return fmt.Errorf("registry: invalid registration %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.invalidated {
		return ErrInvalidated
	}
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.services[name] = svc
	return nil
}

// Get returns the service registered under name.
func (r *Registry) Get(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.invalidated {
		return nil, ErrInvalidated
	}
	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, name)
	}
	return svc, nil
}

// Lookup returns the service under name as T.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	svc, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("registry: service %s has type %T, want %T", name, svc, zero)
	}
	return typed, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invalidate drops every handle. Later lookups and registrations fail with
// ErrInvalidated. It is idempotent.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = true
	r.services = make(map[string]any)
}

// Reset makes an invalidated registry usable again, empty.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = false
	r.services = make(map[string]any)
}
