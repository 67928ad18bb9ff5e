package nativehost

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
	"github.com/vango-dev/enginebridge/pkg/platform"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// RuntimeFactory builds the runtime for a new view.
type RuntimeFactory func(engine protocol.EngineType, params map[string]any) Runtime

// EmbedderConfig configures an Embedder.
type EmbedderConfig struct {
	// NewRuntime defaults to a HeadlessRuntime of the requested engine type.
	NewRuntime RuntimeFactory

	// Delay simulates the time a platform takes to attach a view before its
	// handler exists.
	Delay time.Duration

	// Handler is the template for every handler; ViewID is overwritten.
	Handler HandlerConfig

	Clock  clock.Clock
	Logger *slog.Logger
}

// Embedder creates a Handler per view and registers it. It implements
// platform.Embedder.
type Embedder struct {
	cfg    EmbedderConfig
	clock  clock.Clock
	logger *slog.Logger
}

var _ platform.Embedder = (*Embedder)(nil)

// NewEmbedder creates an Embedder.
func NewEmbedder(cfg EmbedderConfig) *Embedder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler.Logger == nil {
		cfg.Handler.Logger = cfg.Logger
	}
	if cfg.NewRuntime == nil {
		logger := cfg.Logger
		cfg.NewRuntime = func(engine protocol.EngineType, _ map[string]any) Runtime {
			return NewHeadlessRuntime(HeadlessConfig{EngineType: engine, Logger: logger})
		}
	}
	return &Embedder{
		cfg:    cfg,
		clock:  clock.OrReal(cfg.Clock),
		logger: cfg.Logger.With("component", "embedder"),
	}
}

// Embed implements platform.Embedder.
func (e *Embedder) Embed(ctx context.Context, req platform.EmbedRequest) error {
	if e.cfg.Delay > 0 {
		if err := e.clock.Sleep(ctx, e.cfg.Delay); err != nil {
			return err
		}
	}
	hc := e.cfg.Handler
	hc.ViewID = req.ViewID
	h := NewHandler(e.cfg.NewRuntime(req.EngineType, req.Params), hc)
	if err := req.Registry.Register(req.ViewID, h); err != nil {
		return err
	}
	e.logger.Debug("view embedded", "view_id", req.ViewID, "engine", req.EngineType.String())
	return nil
}
