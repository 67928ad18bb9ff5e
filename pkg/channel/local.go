package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// Local is an in-process channel for one view. Each call resolves the
// view's handler through the registry, so a call that races ahead of
// handler registration fails with ErrNotRegistered rather than blocking.
// Argument maps are copied before they cross to the native side.
type Local struct {
	viewID int64
	lookup Lookup

	closed  atomic.Bool
	mu      sync.Mutex
	cancels map[int]func()
	nextID  int
}

// NewLocal creates a channel for viewID.
func NewLocal(viewID int64, lookup Lookup) *Local {
	return &Local{viewID: viewID, lookup: lookup, cancels: make(map[int]func())}
}

// ViewID returns the view this channel is scoped to.
func (l *Local) ViewID() int64 {
	return l.viewID
}

// Invoke implements MethodChannel.
func (l *Local) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := l.lookup.Lookup(l.viewID)
	if !ok {
		return nil, fmt.Errorf("%w: view %d", ErrNotRegistered, l.viewID)
	}
	result, err := h.HandleCall(ctx, method, copyMap(args))
	if err != nil {
		return nil, err
	}
	return copyValue(result), nil
}

// Listen implements EventSource.
func (l *Local) Listen(fn func(protocol.Event)) (func(), error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	h, ok := l.lookup.Lookup(l.viewID)
	if !ok {
		return nil, fmt.Errorf("%w: view %d", ErrNotRegistered, l.viewID)
	}
	unsubscribe := h.Subscribe(func(ev protocol.Event) {
		fn(protocol.Event{Type: ev.Type, Data: copyMap(ev.Data)})
	})

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.cancels[id] = unsubscribe
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.cancels, id)
			l.mu.Unlock()
			unsubscribe()
		})
	}, nil
}

// Close detaches every listener. Later calls fail with ErrClosed.
func (l *Local) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.mu.Lock()
	cancels := l.cancels
	l.cancels = make(map[int]func())
	l.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}
