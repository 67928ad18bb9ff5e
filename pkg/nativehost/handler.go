package nativehost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"

	ierrors "github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/router"
	"github.com/vango-dev/enginebridge/pkg/store"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// Handler errors.
var (
	// ErrNotImplemented is returned for methods the view's engine lacks.
	ErrNotImplemented = errors.New("nativehost: method not implemented by engine")

	// ErrInvalidCall is returned when call arguments cannot be parsed.
	ErrInvalidCall = errors.New("nativehost: invalid call")

	// ErrNotCreated is returned by engine commands before create.
	ErrNotCreated = errors.New("nativehost: engine not created")
)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	ViewID int64

	// PlatformVersion answers getPlatformVersion. Defaults to the Go
	// runtime's OS/arch and version.
	PlatformVersion string

	// Quality is the engine's initial quality. ApplyQualitySettings merges
	// over it.
	Quality protocol.QualitySettings

	Binary    transfer.Config
	Assembler transfer.AssemblerConfig
	Router    router.Config

	// DeltaMaxDepth must match the sender's delta configuration.
	DeltaMaxDepth int

	// Store, when set, receives every completed chunked transfer.
	Store store.Store

	Logger *slog.Logger
}

// DefaultQuality is the quality a fresh engine reports.
func DefaultQuality() protocol.QualitySettings {
	return protocol.QualitySettings{
		QualityLevel:        protocol.Int(3),
		AntiAliasingQuality: protocol.Int(2),
		ShadowQuality:       protocol.Int(2),
		PostProcessQuality:  protocol.Int(2),
		TextureQuality:      protocol.Int(2),
		EffectsQuality:      protocol.Int(2),
		FoliageQuality:      protocol.Int(2),
		ViewDistanceQuality: protocol.Int(2),
		TargetFrameRate:     protocol.Int(60),
		EnableVSync:         protocol.Bool(true),
		ResolutionScale:     protocol.Float(1),
	}
}

// Handler is the native side of one view. It implements channel.Handler for
// the transport and protocol.Handler for request dispatch.
type Handler struct {
	viewID          int64
	platformVersion string
	runtime         Runtime
	router          *router.Router
	codec           *transfer.Codec
	assembler       *transfer.ChunkAssembler
	tracker         *delta.Tracker
	store           store.Store
	logger          *slog.Logger

	mu      sync.Mutex
	created bool
	quality protocol.QualitySettings

	subMu   sync.RWMutex
	subs    map[int]func(protocol.Event)
	nextSub int
}

var (
	_ channel.Handler  = (*Handler)(nil)
	_ protocol.Handler = (*Handler)(nil)
	_ Host             = (*Handler)(nil)
)

// NewHandler creates a handler driving rt.
func NewHandler(rt Runtime, cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PlatformVersion == "" {
		cfg.PlatformVersion = fmt.Sprintf("%s/%s %s", goruntime.GOOS, goruntime.GOARCH, goruntime.Version())
	}
	if cfg.Router.Logger == nil {
		cfg.Router.Logger = cfg.Logger
	}
	quality := DefaultQuality().Merge(cfg.Quality)
	return &Handler{
		viewID:          cfg.ViewID,
		platformVersion: cfg.PlatformVersion,
		runtime:         rt,
		router:          router.New(cfg.Router),
		codec:           transfer.NewCodec(cfg.Binary),
		assembler:       transfer.NewChunkAssembler(cfg.Assembler),
		tracker:         delta.NewTracker(cfg.DeltaMaxDepth),
		store:           cfg.Store,
		logger: cfg.Logger.With("component", "native_handler",
			"view_id", cfg.ViewID, "engine", rt.EngineType().String()),
		quality: quality,
		subs:    make(map[int]func(protocol.Event)),
	}
}

// ViewID implements Host.
func (h *Handler) ViewID() int64 { return h.viewID }

// Router implements Host.
func (h *Handler) Router() *router.Router { return h.router }

// Codec implements Host.
func (h *Handler) Codec() *transfer.Codec { return h.codec }

// Runtime returns the engine runtime.
func (h *Handler) Runtime() Runtime { return h.runtime }

// Created reports whether the engine is up.
func (h *Handler) Created() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created
}

// Emit implements Host. Events emitted with no subscriber are dropped.
func (h *Handler) Emit(ev protocol.Event) {
	h.subMu.RLock()
	fns := make([]func(protocol.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe implements channel.Handler.
func (h *Handler) Subscribe(fn func(protocol.Event)) func() {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subs, id)
			h.subMu.Unlock()
		})
	}
}

// HandleCall implements channel.Handler.
func (h *Handler) HandleCall(ctx context.Context, method string, args map[string]any) (any, error) {
	if !h.runtime.EngineType().Supports(method) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotImplemented, method, h.runtime.EngineType())
	}
	req, err := protocol.ParseRequest(method, args)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMethod) {
			return nil, fmt.Errorf("%w: %w", ErrNotImplemented, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCall, err)
	}
	return protocol.Dispatch(ctx, req, h)
}

func (h *Handler) requireCreated(method string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.created {
		return fmt.Errorf("%w: %s", ErrNotCreated, method)
	}
	return nil
}

// GetPlatformVersion implements protocol.Handler.
func (h *Handler) GetPlatformVersion(context.Context) (string, error) {
	return h.platformVersion, nil
}

// GetEngineType implements protocol.Handler.
func (h *Handler) GetEngineType(context.Context) (protocol.EngineType, error) {
	return h.runtime.EngineType(), nil
}

// GetEngineVersion implements protocol.Handler.
func (h *Handler) GetEngineVersion(context.Context) (string, error) {
	return h.runtime.Version(), nil
}

// IsEngineSupported implements protocol.Handler.
func (h *Handler) IsEngineSupported(context.Context) (bool, error) {
	return h.runtime.Supported(), nil
}

// Create implements protocol.Handler. Creating an engine that is already up
// succeeds without restarting it.
func (h *Handler) Create(ctx context.Context, r protocol.Create) (bool, error) {
	h.mu.Lock()
	if h.created {
		h.mu.Unlock()
		return true, nil
	}
	h.mu.Unlock()

	if err := h.runtime.Start(ctx, h, r.Options); err != nil {
		h.Emit(protocol.ErrorEvent(err.Error()))
		return false, err
	}
	h.mu.Lock()
	h.created = true
	h.mu.Unlock()

	h.logger.Info("engine created")
	h.Emit(protocol.NewEvent(protocol.EventCreated, nil))
	return true, nil
}

// Pause implements protocol.Handler.
func (h *Handler) Pause(ctx context.Context) error {
	return h.lifecycle(ctx, protocol.MethodPause, h.runtime.Pause, protocol.EventPaused, true)
}

// Resume implements protocol.Handler.
func (h *Handler) Resume(ctx context.Context) error {
	return h.lifecycle(ctx, protocol.MethodResume, h.runtime.Resume, protocol.EventResumed, true)
}

// Unload implements protocol.Handler.
func (h *Handler) Unload(ctx context.Context) error {
	return h.lifecycle(ctx, protocol.MethodUnload, h.runtime.Unload, protocol.EventUnloaded, false)
}

func (h *Handler) lifecycle(ctx context.Context, method string, fn func(context.Context) error, ev protocol.EventType, stillCreated bool) error {
	if err := h.requireCreated(method); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if !stillCreated {
		h.mu.Lock()
		h.created = false
		h.mu.Unlock()
		h.assembler.CancelAll()
	}
	h.Emit(protocol.NewEvent(ev, nil))
	return nil
}

// Quit implements protocol.Handler. Quitting an engine that was never
// created is a no-op.
func (h *Handler) Quit(ctx context.Context) error {
	h.mu.Lock()
	created := h.created
	h.created = false
	h.mu.Unlock()
	if !created {
		return nil
	}

	if ids := h.assembler.CancelAll(); len(ids) > 0 {
		h.logger.Debug("discarded in-flight transfers", "transfers", ids)
	}
	if err := h.runtime.Stop(ctx); err != nil {
		return err
	}
	h.logger.Info("engine destroyed")
	h.Emit(protocol.NewEvent(protocol.EventDestroyed, nil))
	return nil
}

// SendMessage implements protocol.Handler.
func (h *Handler) SendMessage(_ context.Context, r protocol.SendMessage) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	h.deliver(r.Target, r.Name, r.Data)
	return nil
}

// SendJSONMessage implements protocol.Handler. Batch envelopes are unpacked
// and each message is routed in order.
func (h *Handler) SendJSONMessage(_ context.Context, r protocol.SendJSONMessage) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	if r.Target != protocol.BatchTarget {
		return h.deliverJSON(r.Target, r.Name, r.Data)
	}
	msgs, err := batch.Unpack(r.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCall, err)
	}
	for _, m := range msgs {
		if data, ok := m.Data.(map[string]any); ok {
			if err := h.deliverJSON(m.Target, m.Method, data); err != nil {
				return err
			}
			continue
		}
		h.deliver(m.Target, m.Method, m.Data)
	}
	return nil
}

// deliverJSON routes a structured message, first rebuilding the full state
// when it carries a delta wrapper.
func (h *Handler) deliverJSON(target, method string, data map[string]any) error {
	if payload, isDelta, ok := delta.Unwrap(data); ok {
		full, err := h.tracker.Apply(target+":"+method, payload, isDelta)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCall, err)
		}
		data = full
	}
	h.deliver(target, method, data)
	return nil
}

func (h *Handler) deliver(target, method string, data any) {
	if !h.router.Route(router.Message{Target: target, Method: method, Data: data}) {
		h.logger.Debug("message not delivered", "target", target, "method", method)
	}
}

// SendBinaryMessage implements protocol.Handler.
func (h *Handler) SendBinaryMessage(_ context.Context, r protocol.SendBinaryMessage) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	data, err := transfer.DecodeEnvelope(r.Envelope)
	if err != nil {
		return err
	}
	h.router.Route(router.Message{Target: r.Target, Method: r.Name, Binary: data})
	return nil
}

// SendBinaryChunk implements protocol.Handler. Each data chunk is reported
// with onBinaryProgress; the completed payload is routed and, when a store
// is configured, persisted under its transfer id.
func (h *Handler) SendBinaryChunk(ctx context.Context, r protocol.SendBinaryChunk) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	if r.Chunk.Type == protocol.ChunkHeader {
		for _, id := range h.assembler.Expire() {
			h.logger.Warn("stale transfer discarded", "transfer_id", id)
		}
	}
	data, p, ok, err := h.assembler.ProcessChunkProgress(r.Chunk)
	if err != nil {
		h.logger.Warn("chunk rejected", "transfer_id", r.Chunk.TransferID, "error", err)
		return err
	}
	if ok {
		h.Emit(protocol.ProgressEventOf(protocol.ProgressEvent{
			TransferID:   p.TransferID,
			CurrentChunk: p.Received,
			TotalChunks:  p.TotalChunks,
			Progress:     p.Fraction(),
		}))
	}
	if data == nil {
		return nil
	}

	h.router.Route(router.Message{Target: r.Target, Method: r.Name, Binary: data})
	if h.store != nil {
		meta := store.Meta{
			ID:       r.Chunk.TransferID,
			ViewID:   h.viewID,
			Target:   r.Target,
			Method:   r.Name,
			Size:     int64(len(data)),
			Checksum: transfer.Checksum(data),
		}
		if err := h.store.Save(ctx, meta, bytes.NewReader(data)); err != nil {
			h.logger.Warn("transfer not persisted", "transfer_id", meta.ID, "error", err)
		}
	}
	return nil
}

// ExecuteConsoleCommand implements protocol.Handler.
func (h *Handler) ExecuteConsoleCommand(ctx context.Context, r protocol.ExecuteConsoleCommand) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	return h.runtime.ExecuteConsoleCommand(ctx, r.Command)
}

// LoadLevel implements protocol.Handler. onSceneLoaded follows the
// runtime's confirmation.
func (h *Handler) LoadLevel(ctx context.Context, r protocol.LoadLevel) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	scene, err := h.runtime.LoadLevel(ctx, r.LevelName)
	if err != nil {
		return err
	}
	h.Emit(protocol.SceneLoadedEvent(scene))
	return nil
}

// ApplyQualitySettings implements protocol.Handler.
func (h *Handler) ApplyQualitySettings(ctx context.Context, r protocol.ApplyQualitySettings) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	h.mu.Lock()
	merged := h.quality.Merge(r.Settings)
	h.mu.Unlock()

	if err := h.runtime.ApplyQuality(ctx, merged); err != nil {
		return err
	}
	h.mu.Lock()
	h.quality = merged
	h.mu.Unlock()
	return nil
}

// GetQualitySettings implements protocol.Handler.
func (h *Handler) GetQualitySettings(context.Context) (protocol.QualitySettings, error) {
	if err := h.requireCreated(protocol.MethodGetQualitySettings); err != nil {
		return protocol.QualitySettings{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quality, nil
}

// IsInBackground implements protocol.Handler.
func (h *Handler) IsInBackground(ctx context.Context) (bool, error) {
	if err := h.requireCreated(protocol.MethodIsInBackground); err != nil {
		return false, err
	}
	return h.runtime.InBackground(ctx)
}

// SetStreamingCachePath implements protocol.Handler.
func (h *Handler) SetStreamingCachePath(ctx context.Context, r protocol.SetStreamingCachePath) error {
	if err := h.requireCreated(r.Method()); err != nil {
		return err
	}
	return h.runtime.SetStreamingCachePath(ctx, r.Path)
}

// SetupEvents implements protocol.Handler. The emitter exists as soon as the
// handler does, so setup always succeeds.
func (h *Handler) SetupEvents(context.Context) (bool, error) {
	return true, nil
}

// ErrorCode maps a handler error to its wire code.
func ErrorCode(err error) protocol.ErrorCode {
	var ce *protocol.CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case errors.Is(err, channel.ErrNotRegistered):
		return protocol.ErrNotRegistered
	case errors.Is(err, ErrNotImplemented):
		return protocol.ErrNotImplemented
	case errors.Is(err, ErrInvalidCall), errors.Is(err, protocol.ErrMalformedPayload):
		return protocol.ErrInvalidCall
	}
	switch ierrors.KindOf(err) {
	case ierrors.KindMissingChunk, ierrors.KindIncompleteTransfer, ierrors.KindChecksumMismatch,
		ierrors.KindInvalidChunk, ierrors.KindInvalidEnvelope:
		return protocol.ErrTransferIntegrity
	}
	return protocol.ErrEngineFailure
}
