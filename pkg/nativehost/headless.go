package nativehost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/router"
)

// ErrNotRunning is returned by HeadlessRuntime commands before Start.
var ErrNotRunning = errors.New("nativehost: runtime not running")

// DefaultHeadlessTargets are the targets a HeadlessRuntime answers on.
var DefaultHeadlessTargets = []string{"Echo"}

// HeadlessConfig configures a HeadlessRuntime.
type HeadlessConfig struct {
	EngineType protocol.EngineType
	Version    string

	// Targets are registered on start. Every message sent to one of them is
	// echoed back: text and JSON as onMessage, binary as onBinaryMessage or
	// a chunk stream, depending on size.
	Targets []string

	Logger *slog.Logger
}

// HeadlessRuntime is an in-memory Runtime with no rendering. It records
// the commands it receives, which makes it useful in tests and as the
// engine behind `enginebridge serve`.
type HeadlessRuntime struct {
	cfg    HeadlessConfig
	logger *slog.Logger

	mu        sync.Mutex
	host      Host
	running   bool
	paused    bool
	levels    []string
	commands  []string
	quality   protocol.QualitySettings
	cachePath string
	options   map[string]any
}

var _ Runtime = (*HeadlessRuntime)(nil)

// NewHeadlessRuntime creates a stopped runtime.
func NewHeadlessRuntime(cfg HeadlessConfig) *HeadlessRuntime {
	if cfg.EngineType == "" {
		cfg.EngineType = protocol.EngineUnity
	}
	if cfg.Version == "" {
		cfg.Version = "headless-1.0"
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = DefaultHeadlessTargets
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HeadlessRuntime{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "headless_runtime", "engine", cfg.EngineType.String()),
	}
}

func (r *HeadlessRuntime) EngineType() protocol.EngineType { return r.cfg.EngineType }
func (r *HeadlessRuntime) Version() string                 { return r.cfg.Version }
func (r *HeadlessRuntime) Supported() bool                 { return true }

// Start registers the echo targets. Messages that reached the router before
// the targets existed are flushed to them here.
func (r *HeadlessRuntime) Start(_ context.Context, host Host, options map[string]any) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.host = host
	r.running = true
	r.paused = false
	r.options = options
	r.mu.Unlock()

	for _, t := range r.cfg.Targets {
		host.Router().HandleAll(t, r.echo)
		if err := host.Router().RegisterTarget(t, true); err != nil && !errors.Is(err, router.ErrTargetExists) {
			return err
		}
	}
	r.logger.Debug("started", "view_id", host.ViewID(), "targets", r.cfg.Targets)
	return nil
}

func (r *HeadlessRuntime) echo(m router.Message) {
	r.mu.Lock()
	host := r.host
	paused := r.paused
	r.mu.Unlock()
	if host == nil || paused {
		return
	}

	if !m.IsBinary() {
		host.Emit(protocol.MessageEvent(m.Target, m.Method, m.Data))
		return
	}

	codec := host.Codec()
	if !codec.NeedsChunking(len(m.Binary)) {
		env, err := codec.EncodeWithMetadata(m.Binary, true)
		if err != nil {
			host.Emit(protocol.ErrorEvent(err.Error()))
			return
		}
		host.Emit(protocol.BinaryMessageEvent(m.Target, m.Method, env))
		return
	}
	_, chunks := codec.CreateChunks(m.Binary)
	for c := range chunks {
		host.Emit(protocol.ChunkEvent(m.Target, m.Method, c))
	}
}

func (r *HeadlessRuntime) Pause(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.paused = true
	return nil
}

func (r *HeadlessRuntime) Resume(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.paused = false
	return nil
}

// Unload stops the runtime and removes its targets so that a later Start
// can register them again.
func (r *HeadlessRuntime) Unload(ctx context.Context) error {
	return r.Stop(ctx)
}

func (r *HeadlessRuntime) Stop(context.Context) error {
	r.mu.Lock()
	host := r.host
	running := r.running
	r.running = false
	r.paused = false
	r.host = nil
	r.mu.Unlock()
	if !running {
		return nil
	}
	for _, t := range r.cfg.Targets {
		host.Router().UnregisterTarget(t)
	}
	return nil
}

func (r *HeadlessRuntime) ExecuteConsoleCommand(_ context.Context, command string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.commands = append(r.commands, command)
	return nil
}

// LoadLevel "loads" a level by name. The build index is the level's
// position in load order.
func (r *HeadlessRuntime) LoadLevel(_ context.Context, name string) (protocol.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return protocol.Scene{}, ErrNotRunning
	}
	if name == "" {
		return protocol.Scene{}, fmt.Errorf("nativehost: empty level name")
	}
	idx := slices.Index(r.levels, name)
	if idx < 0 {
		r.levels = append(r.levels, name)
		idx = len(r.levels) - 1
	}
	return protocol.Scene{Name: name, BuildIndex: idx, IsLoaded: true, IsValid: true}, nil
}

func (r *HeadlessRuntime) ApplyQuality(_ context.Context, q protocol.QualitySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.quality = q
	return nil
}

func (r *HeadlessRuntime) InBackground(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused, nil
}

func (r *HeadlessRuntime) SetStreamingCachePath(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachePath = path
	return nil
}

// Commands returns the console commands executed so far.
func (r *HeadlessRuntime) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commands)
}

// Running reports whether the runtime has been started and not stopped.
func (r *HeadlessRuntime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Quality returns the last quality applied by the handler.
func (r *HeadlessRuntime) Quality() protocol.QualitySettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality
}

// CachePath returns the streaming cache path.
func (r *HeadlessRuntime) CachePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cachePath
}

// Options returns the creation options passed to Start.
func (r *HeadlessRuntime) Options() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options
}
