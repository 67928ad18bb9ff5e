package platform

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// Embedder performs the platform-specific part of creating a view: it builds
// the native handler and registers it with the registry when ready. Embed runs
// on its own goroutine and may take arbitrarily long.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) error
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, req EmbedRequest) error

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, req EmbedRequest) error { return f(ctx, req) }

// EmbedRequest describes one view to embed.
type EmbedRequest struct {
	ViewID     int64
	EngineType protocol.EngineType
	Params     map[string]any
	Registry   *Registry
}

// View is a freshly allocated view. Channel calls on it fail with
// channel.ErrNotRegistered until the embedder registers a handler.
type View struct {
	ID         int64
	EngineType protocol.EngineType
	Channel    *channel.Local
}

// Factory allocates views and starts their embedding asynchronously.
type Factory struct {
	registry *Registry
	embedder Embedder
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewFactory creates a Factory.
func NewFactory(registry *Registry, embedder Embedder, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		registry: registry,
		embedder: embedder,
		logger:   logger.With("component", "view-factory"),
	}
}

// Registry returns the registry views are registered in.
func (f *Factory) Registry() *Registry {
	return f.registry
}

// Create allocates a view id and returns its channel immediately. Embedding
// proceeds in the background; failures are logged. The returned View is
// usable right away, and the first calls on it are expected to race the
// registration.
func (f *Factory) Create(ctx context.Context, engine protocol.EngineType, params map[string]any) View {
	id := f.registry.NextViewID()
	view := View{
		ID:         id,
		EngineType: engine,
		Channel:    channel.NewLocal(id, f.registry),
	}

	req := EmbedRequest{ViewID: id, EngineType: engine, Params: params, Registry: f.registry}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.embedder.Embed(context.WithoutCancel(ctx), req); err != nil {
			f.logger.Error("embed failed", "view_id", id, "engine", engine.String(), "error", err)
		}
	}()
	return view
}

// Wait blocks until all in-flight embeddings finish.
func (f *Factory) Wait() {
	f.wg.Wait()
}
