// Package router dispatches engine messages on the native side to handlers
// registered per target and method.
//
// Messages for targets that have not registered yet are queued, bounded and
// drop-oldest, and routed when the target registers. Messages for a known
// target without a handler for the method are dropped and counted.
package router

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxQueueSize bounds the unknown-target queue.
const DefaultMaxQueueSize = 1000

// ErrTargetExists is returned when a singleton target registers twice.
var ErrTargetExists = errors.New("router: singleton target already registered")

// Message is one routed message. Text and JSON messages carry Data; binary
// messages carry Binary.
type Message struct {
	Target string
	Method string
	Data   any
	Binary []byte
}

// IsBinary reports whether m carries a binary payload.
func (m Message) IsBinary() bool {
	return m.Binary != nil
}

// HandlerFunc handles text and JSON messages.
type HandlerFunc func(m Message)

// BinaryHandlerFunc handles binary messages.
type BinaryHandlerFunc func(method string, data []byte)

// Config configures a Router.
type Config struct {
	MaxQueueSize int

	// DisableQueue drops messages for unknown targets instead of queueing.
	DisableQueue bool

	Logger *slog.Logger
}

// Stats counts router activity.
type Stats struct {
	Routed            int64
	Dropped           int64
	RegisteredTargets int
	CachedHandlers    int
	Queued            int
}

// TargetInfo describes a registered target.
type TargetInfo struct {
	Name      string
	Singleton bool
	Methods   int
}

// Router is safe for concurrent use. Handlers run on the caller's goroutine
// without the router lock held, so they may call back into the router.
type Router struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	targets  map[string]bool // name -> singleton
	handlers map[string]HandlerFunc
	binary   map[string]BinaryHandlerFunc
	all      map[string]HandlerFunc // target -> catch-all
	queue    []Message
	routed   int64
	dropped  int64
}

// New creates a router, filling zero config fields with defaults.
func New(cfg Config) *Router {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With("component", "message-router"),
		targets:  make(map[string]bool),
		handlers: make(map[string]HandlerFunc),
		binary:   make(map[string]BinaryHandlerFunc),
		all:      make(map[string]HandlerFunc),
	}
}

func cacheKey(target, method string) string {
	return target + ":" + method
}

// RegisterTarget makes target known and routes any queued messages for it.
// Registering a singleton target twice fails with ErrTargetExists.
func (r *Router) RegisterTarget(name string, singleton bool) error {
	r.mu.Lock()
	if prev, ok := r.targets[name]; ok && (singleton || prev) {
		r.mu.Unlock()
		r.logger.Warn("singleton target already registered", "target", name)
		return ErrTargetExists
	}
	r.targets[name] = singleton
	r.mu.Unlock()

	r.logger.Debug("target registered", "target", name, "singleton", singleton)
	r.FlushQueue()
	return nil
}

// UnregisterTarget forgets target and every handler registered for it.
func (r *Router) UnregisterTarget(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[name]; !ok {
		return false
	}
	delete(r.targets, name)
	prefix := name + ":"
	for k := range r.handlers {
		if strings.HasPrefix(k, prefix) {
			delete(r.handlers, k)
		}
	}
	for k := range r.binary {
		if strings.HasPrefix(k, prefix) {
			delete(r.binary, k)
		}
	}
	delete(r.all, name)
	return true
}

// IsTargetRegistered reports whether target is known.
func (r *Router) IsTargetRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets[name]
	return ok
}

// Targets lists registered targets sorted by name.
func (r *Router) Targets() []TargetInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TargetInfo, 0, len(r.targets))
	for name, singleton := range r.targets {
		prefix := name + ":"
		n := 0
		for k := range r.handlers {
			if strings.HasPrefix(k, prefix) {
				n++
			}
		}
		out = append(out, TargetInfo{Name: name, Singleton: singleton, Methods: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handle registers h for target.method, replacing any previous handler.
func (r *Router) Handle(target, method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cacheKey(target, method)] = h
}

// HandleBinary registers h for binary messages to target.method.
func (r *Router) HandleBinary(target, method string, h BinaryHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binary[cacheKey(target, method)] = h
}

// HandleAll registers h for every text and binary message to target that
// has no method-specific handler.
func (r *Router) HandleAll(target string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[target] = h
}

// RemoveHandler removes the text and binary handlers of target.method.
func (r *Router) RemoveHandler(target, method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := cacheKey(target, method)
	delete(r.handlers, k)
	delete(r.binary, k)
}

// Route delivers m. It returns false when m was dropped; queued messages
// count as accepted.
func (r *Router) Route(m Message) bool {
	k := cacheKey(m.Target, m.Method)

	r.mu.Lock()
	if m.IsBinary() {
		if h, ok := r.binary[k]; ok {
			r.routed++
			r.mu.Unlock()
			h(m.Method, m.Binary)
			return true
		}
	} else if h, ok := r.handlers[k]; ok {
		r.routed++
		r.mu.Unlock()
		h(m)
		return true
	}
	if h, ok := r.all[m.Target]; ok {
		r.routed++
		r.mu.Unlock()
		h(m)
		return true
	}

	if _, known := r.targets[m.Target]; known {
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("no handler for method", "target", m.Target, "method", m.Method, "binary", m.IsBinary())
		return false
	}
	if r.cfg.DisableQueue {
		r.dropped++
		r.mu.Unlock()
		r.logger.Warn("unknown target", "target", m.Target, "method", m.Method)
		return false
	}
	evicted := r.enqueueLocked(m)
	r.mu.Unlock()

	if evicted {
		r.logger.Warn("message queue full, dropped oldest message", "max", r.cfg.MaxQueueSize)
	}
	return true
}

func (r *Router) enqueueLocked(m Message) bool {
	evicted := false
	if len(r.queue) >= r.cfg.MaxQueueSize {
		r.queue = r.queue[1:]
		r.dropped++
		evicted = true
	}
	r.queue = append(r.queue, m)
	return evicted
}

// FlushQueue routes queued messages whose targets are now known. The rest
// stay queued in order.
func (r *Router) FlushQueue() {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	var ready []Message
	for _, m := range pending {
		if _, known := r.targets[m.Target]; known {
			ready = append(ready, m)
			continue
		}
		r.queue = append(r.queue, m)
	}
	r.mu.Unlock()

	for _, m := range ready {
		r.Route(m)
	}
	if len(ready) > 0 {
		r.logger.Debug("flushed queued messages", "count", len(ready))
	}
}

// ClearQueue discards every queued message.
func (r *Router) ClearQueue() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queue)
	r.queue = nil
	return n
}

// SetMaxQueueSize changes the queue bound, evicting the oldest messages if
// the queue is now too long.
func (r *Router) SetMaxQueueSize(n int) {
	if n <= 0 {
		n = DefaultMaxQueueSize
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.MaxQueueSize = n
	if over := len(r.queue) - n; over > 0 {
		r.queue = append([]Message(nil), r.queue[over:]...)
		r.dropped += int64(over)
	}
}

// Stats returns a snapshot of the counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Routed:            r.routed,
		Dropped:           r.dropped,
		RegisteredTargets: len(r.targets),
		CachedHandlers:    len(r.handlers) + len(r.binary) + len(r.all),
		Queued:            len(r.queue),
	}
}
