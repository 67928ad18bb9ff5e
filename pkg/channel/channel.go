// Package channel defines the per-view link between the host-side controller
// and the native side: a method channel for calls and an event source for
// native → host events.
//
// Two implementations are provided. Local dispatches in-process through a
// view registry. Remote speaks the framed protocol over a websocket to a
// native host process. Both report a call made before the native side has
// registered its handler with ErrNotRegistered, which is the one transport
// error the controller inspects in order to retry.
package channel

import (
	"context"
	"errors"

	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// Channel errors.
var (
	// ErrNotRegistered means no native handler exists for the view yet.
	ErrNotRegistered = errors.New("channel: no handler registered for view")

	// ErrClosed is returned by calls on a closed channel.
	ErrClosed = errors.New("channel: closed")
)

// MethodChannel invokes native methods by name.
type MethodChannel interface {
	Invoke(ctx context.Context, method string, args map[string]any) (any, error)
}

// EventSource delivers native events to a listener until the returned
// cancel function is called.
type EventSource interface {
	Listen(fn func(protocol.Event)) (cancel func(), err error)
}

// Channel is the full per-view link.
type Channel interface {
	MethodChannel
	EventSource
	Close() error
}

// Handler is the native side of one view: it serves calls and emits events.
type Handler interface {
	HandleCall(ctx context.Context, method string, args map[string]any) (any, error)
	Subscribe(fn func(protocol.Event)) (unsubscribe func())
}

// Lookup resolves the handler registered for a view.
type Lookup interface {
	Lookup(viewID int64) (Handler, bool)
}

// Call sends req over ch.
func Call(ctx context.Context, ch MethodChannel, req protocol.Request) (any, error) {
	return ch.Invoke(ctx, req.Method(), req.Args())
}

// Middleware wraps a MethodChannel.
type Middleware func(MethodChannel) MethodChannel

// InvokerFunc adapts a function to MethodChannel.
type InvokerFunc func(ctx context.Context, method string, args map[string]any) (any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	return f(ctx, method, args)
}

// Wrap applies middleware to ch, the first middleware outermost. The result
// keeps ch's Listen and Close.
func Wrap(ch Channel, mw ...Middleware) Channel {
	if len(mw) == 0 {
		return ch
	}
	var inv MethodChannel = ch
	for i := len(mw) - 1; i >= 0; i-- {
		inv = mw[i](inv)
	}
	return &wrapped{Channel: ch, inv: inv}
}

type wrapped struct {
	Channel
	inv MethodChannel
}

func (w *wrapped) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	return w.inv.Invoke(ctx, method, args)
}
