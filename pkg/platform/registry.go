// Package platform holds the view registry that maps view ids to native-side
// handlers, and the factory that allocates views for the host.
//
// The registry is the one process-wide mutable structure shared by both sides
// of the bridge. Registration happens when the platform finishes embedding a
// view; lookups happen on every channel call and may race ahead of it. The
// registry never blocks a lookup waiting for registration: the caller gets a
// miss and the controller's retry loop takes over.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/enginebridge/pkg/channel"
)

// ErrAlreadyRegistered is returned when a view id already has a handler.
var ErrAlreadyRegistered = errors.New("platform: view already registered")

// Registry maps view ids to native handlers. The zero value is not usable;
// use NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[int64]channel.Handler

	nextID atomic.Int64

	onRegister   func(viewID int64)
	onUnregister func(viewID int64)

	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// OnRegister sets a callback invoked after a handler is registered.
func OnRegister(fn func(viewID int64)) RegistryOption {
	return func(r *Registry) { r.onRegister = fn }
}

// OnUnregister sets a callback invoked after a handler is removed.
func OnUnregister(fn func(viewID int64)) RegistryOption {
	return func(r *Registry) { r.onUnregister = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers: make(map[int64]channel.Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "platform-registry")
	return r
}

// NextViewID allocates a fresh view id. Ids start at 1 and are never reused
// by the same registry.
func (r *Registry) NextViewID() int64 {
	return r.nextID.Add(1)
}

// Register installs h for viewID.
func (r *Registry) Register(viewID int64, h channel.Handler) error {
	if h == nil {
		return fmt.Errorf("platform: nil handler for view %d", viewID)
	}
	r.mu.Lock()
	if _, exists := r.handlers[viewID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, viewID)
	}
	r.handlers[viewID] = h
	// Keep allocation ahead of externally chosen ids.
	for {
		cur := r.nextID.Load()
		if viewID <= cur || r.nextID.CompareAndSwap(cur, viewID) {
			break
		}
	}
	r.mu.Unlock()

	r.logger.Debug("handler registered", "view_id", viewID)
	if r.onRegister != nil {
		r.onRegister(viewID)
	}
	return nil
}

// Unregister removes the handler for viewID and reports whether one existed.
func (r *Registry) Unregister(viewID int64) bool {
	r.mu.Lock()
	_, ok := r.handlers[viewID]
	delete(r.handlers, viewID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("handler unregistered", "view_id", viewID)
		if r.onUnregister != nil {
			r.onUnregister(viewID)
		}
	}
	return ok
}

// Lookup implements channel.Lookup.
func (r *Registry) Lookup(viewID int64) (channel.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[viewID]
	return h, ok
}

// Len returns the number of registered views.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Views returns the registered view ids in ascending order.
func (r *Registry) Views() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ channel.Lookup = (*Registry)(nil)
