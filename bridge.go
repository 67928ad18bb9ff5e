// Package enginebridge connects a host application to embedded game engine
// runtimes (Unity, Unreal) through a method channel and an event stream.
//
// This is the recommended import for most applications:
//
//	import "github.com/vango-dev/enginebridge"
//
// A Bridge owns the view registry and the platform factory. Every view it
// creates gets its own engine.Controller, wrapped in the configured
// middleware:
//
//	b := enginebridge.New(enginebridge.Config{
//	    Engine:  engine.Config{EngineType: protocol.EngineUnreal},
//	    Metrics: middleware.NewMetrics(),
//	})
//	defer b.Close(ctx)
//
//	view, err := b.CreateView(ctx, protocol.EngineUnreal, nil)
//	view.Controller.SendMessage(ctx, "Player", "Jump", "")
package enginebridge

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/enginebridge/internal/config"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/engine"
	"github.com/vango-dev/enginebridge/pkg/middleware"
	"github.com/vango-dev/enginebridge/pkg/nativehost"
	"github.com/vango-dev/enginebridge/pkg/platform"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/throttle"
)

// Rate limits one target:method key on every controller.
type Rate struct {
	Target   string
	Method   string
	Hz       float64
	Strategy throttle.Strategy
}

// Config configures a Bridge.
type Config struct {
	// Engine is the template for every controller. EngineType, ViewID and
	// Middleware are set per view.
	Engine engine.Config

	// Rates are applied to every controller after creation.
	Rates []Rate

	// Registry holds the native handlers. A new one is created if nil.
	Registry *platform.Registry

	// Embedder builds native handlers. Defaults to a nativehost.Embedder
	// with headless runtimes.
	Embedder platform.Embedder

	// Metrics, when set, counts calls, events and live views.
	Metrics *middleware.Metrics

	// Tracing wraps every call in an OpenTelemetry span.
	Tracing bool

	// Middleware runs inside the metrics and tracing middleware.
	Middleware []channel.Middleware

	// Remote configures websocket channels opened with Dial.
	Remote channel.RemoteConfig

	Logger *slog.Logger
}

// FromFile converts a project config file into a Bridge config. Metrics are
// registered on reg when enabled; a nil reg uses the default registerer.
func FromFile(fc *config.Config, reg prometheus.Registerer, logger *slog.Logger) Config {
	cfg := Config{
		Engine:   fc.Engine(),
		Embedder: nativehost.NewEmbedder(fc.Embedder(logger)),
		Tracing:  fc.Metrics.Tracing,
		Logger:   logger,
	}
	for _, r := range fc.Throttle.Rates {
		strategy, _ := throttle.ParseStrategy(r.Strategy)
		cfg.Rates = append(cfg.Rates, Rate{Target: r.Target, Method: r.Method, Hz: r.RateHz, Strategy: strategy})
	}
	if fc.Metrics.Enabled {
		opts := []middleware.MetricsOption{middleware.WithNamespace(fc.Metrics.Namespace)}
		if reg != nil {
			opts = append(opts, middleware.WithRegistry(reg))
		}
		cfg.Metrics = middleware.NewMetrics(opts...)
	}
	return cfg
}

// View is a live view and its controller.
type View struct {
	ID         int64
	EngineType protocol.EngineType
	Controller *engine.Controller

	// Remote is set for views opened with Dial.
	Remote *channel.Remote
}

// Bridge creates and tracks engine views.
type Bridge struct {
	cfg     Config
	factory *platform.Factory
	logger  *slog.Logger

	mu     sync.Mutex
	views  map[int64]*View
	remote int64
	wg     sync.WaitGroup
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = platform.NewRegistry(platform.WithLogger(cfg.Logger))
	}
	if cfg.Embedder == nil {
		cfg.Embedder = nativehost.NewEmbedder(nativehost.EmbedderConfig{Logger: cfg.Logger})
	}
	return &Bridge{
		cfg:     cfg,
		factory: platform.NewFactory(cfg.Registry, cfg.Embedder, cfg.Logger),
		logger:  cfg.Logger.With("component", "bridge"),
		views:   make(map[int64]*View),
	}
}

// Registry returns the native handler registry.
func (b *Bridge) Registry() *platform.Registry {
	return b.cfg.Registry
}

// Factory returns the platform factory.
func (b *Bridge) Factory() *platform.Factory {
	return b.factory
}

// CreateView allocates a view, embeds it in the background and runs the
// controller's create and event setup handshake, which retries until the
// native handler registers. On failure the view is disposed.
func (b *Bridge) CreateView(ctx context.Context, engineType protocol.EngineType, params map[string]any) (*View, error) {
	pv := b.factory.Create(ctx, engineType, params)
	view := b.attach(pv.ID, engineType, pv.Channel, params)

	if _, err := view.Controller.Start(ctx); err != nil {
		b.logger.Error("view start failed", "view_id", view.ID, "engine", engineType.String(), "error", err)
		b.DisposeView(context.WithoutCancel(ctx), view.ID)
		return nil, err
	}
	return view, nil
}

// Dial connects to a native host over websocket and starts a controller
// for the remote view. Remote views get negative ids in this bridge so
// they never collide with local ones.
func (b *Bridge) Dial(ctx context.Context, url string, engineType protocol.EngineType) (*View, error) {
	rc := b.cfg.Remote
	if rc.Logger == nil {
		rc.Logger = b.cfg.Logger
	}
	remote, err := channel.Dial(ctx, url, rc)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.remote--
	id := b.remote
	b.mu.Unlock()

	view := b.attach(id, engineType, remote, nil)
	view.Remote = remote
	if _, err := view.Controller.Start(ctx); err != nil {
		b.DisposeView(context.WithoutCancel(ctx), id)
		return nil, err
	}
	return view, nil
}

func (b *Bridge) attach(id int64, engineType protocol.EngineType, ch channel.Channel, params map[string]any) *View {
	ec := b.cfg.Engine
	ec.EngineType = engineType
	ec.ViewID = id
	if ec.Logger == nil {
		ec.Logger = b.cfg.Logger
	}
	if params != nil {
		ec.CreateOptions = params
	}
	ec.Middleware = b.middleware(id, engineType)

	ctrl := engine.New(ch, ec)
	for _, r := range b.cfg.Rates {
		ctrl.SetRate(r.Target, r.Method, r.Hz, r.Strategy)
	}

	view := &View{ID: id, EngineType: engineType, Controller: ctrl}
	b.mu.Lock()
	b.views[id] = view
	b.mu.Unlock()

	if m := b.cfg.Metrics; m != nil {
		m.RecordViewCreated()
		events, _ := ctrl.Events().Subscribe()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for ev := range events {
				m.RecordEvent(ev.Type)
			}
		}()
	}
	b.logger.Info("view attached", "view_id", id, "engine", engineType.String())
	return view
}

func (b *Bridge) middleware(id int64, engineType protocol.EngineType) []channel.Middleware {
	var mw []channel.Middleware
	if b.cfg.Tracing {
		mw = append(mw, middleware.Tracing(middleware.WithAttributes(
			attribute.Int64("enginebridge.view_id", id),
			attribute.String("enginebridge.engine", engineType.String()),
		)))
	}
	if b.cfg.Metrics != nil {
		mw = append(mw, b.cfg.Metrics.Middleware())
	}
	return append(mw, b.cfg.Middleware...)
}

// View returns a live view.
func (b *Bridge) View(id int64) (*View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.views[id]
	return v, ok
}

// Views returns the live view ids in ascending order.
func (b *Bridge) Views() []int64 {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.views))
	for id := range b.views {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DisposeView disposes the controller and removes the native handler.
// It reports whether the view existed.
func (b *Bridge) DisposeView(ctx context.Context, id int64) bool {
	b.mu.Lock()
	view, ok := b.views[id]
	delete(b.views, id)
	b.mu.Unlock()
	if !ok {
		return false
	}

	view.Controller.Dispose(ctx)
	if view.Remote == nil {
		b.cfg.Registry.Unregister(id)
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordViewDisposed()
	}
	b.logger.Info("view disposed", "view_id", id)
	return true
}

// Close disposes every view and waits for background embedding and event
// accounting to finish.
func (b *Bridge) Close(ctx context.Context) error {
	for _, id := range b.Views() {
		b.DisposeView(ctx, id)
	}
	b.factory.Wait()
	b.wg.Wait()
	return nil
}
