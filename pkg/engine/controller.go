// Package engine implements the host-side controller for one embedded engine
// view.
//
// A Controller owns the view's command channel exclusively. It tracks the
// engine lifecycle, buffers sends issued before the engine is ready, resolves
// the race between view creation and native handler registration with
// bounded exponential backoff, and fans native events out to three broadcast
// streams: every event, engine messages, and scene loads.
//
// Create and SetupEvents retry independently because the native side wires
// its command handler and its event emitter at different times.
package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/vango-dev/enginebridge/internal/clock"
	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/retry"
	"github.com/vango-dev/enginebridge/pkg/throttle"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// errEventsNotWired is returned inside the setup loop when events#setup
// answers false. It is retried like a missing handler.
var errEventsNotWired = stderrors.New("engine: event emitter not wired yet")

// Controller drives one engine view. It is safe for concurrent use.
type Controller struct {
	ch     channel.Channel
	cfg    Config
	engine protocol.EngineType
	clock  clock.Clock
	logger *slog.Logger

	// life is cancelled by Dispose; it interrupts retry backoff in Create
	// and SetupEvents.
	life       context.Context
	cancelLife context.CancelFunc

	codec     *transfer.Codec
	assembler *transfer.ChunkAssembler
	batcher   *batch.Batcher
	throttler *throttle.Throttler
	deltas    *delta.Compressor

	events   *Stream[protocol.Event]
	messages *Stream[Message]
	scenes   *Stream[protocol.Scene]

	mu        sync.Mutex
	state     State
	paused    bool
	disposed  bool
	replaying bool
	queue     *pendingQueue
	stats     Stats

	// setupMu serializes SetupEvents. Dispose never takes it.
	setupMu     sync.Mutex
	eventsReady bool
	stopEvents  func()
}

// New creates a controller over ch. The controller owns ch and closes it on
// Dispose.
func New(ch channel.Channel, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(
		"component", "engine-controller",
		"engine", cfg.EngineType.String(),
		"view_id", cfg.ViewID,
	)

	c := &Controller{
		ch:        channel.Wrap(ch, cfg.Middleware...),
		cfg:       cfg,
		engine:    cfg.EngineType,
		clock:     cfg.Clock,
		logger:    logger,
		codec:     transfer.NewCodec(cfg.Binary),
		assembler: transfer.NewChunkAssembler(transfer.AssemblerConfig{Now: cfg.Clock.Now}),
		events:    newStream[protocol.Event](cfg.StreamBuffer),
		messages:  newStream[Message](cfg.StreamBuffer),
		scenes:    newStream[protocol.Scene](cfg.StreamBuffer),
		queue:     newPendingQueue(cfg.QueueCapacity),
	}
	c.life, c.cancelLife = context.WithCancel(context.Background())

	bc := cfg.Batch
	bc.Clock, bc.Logger = cfg.Clock, logger
	c.batcher = batch.New(bc, c.sendAny)

	tc := cfg.Throttle
	tc.Clock, tc.Logger = cfg.Clock, logger
	c.throttler = throttle.New(tc, c.sendAny)

	dc := cfg.Delta
	dc.Logger = logger
	c.deltas = delta.NewCompressor(dc)
	return c
}

// EngineType returns the engine this controller drives.
func (c *Controller) EngineType() protocol.EngineType {
	return c.engine
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether commands can be sent.
func (c *Controller) IsReady() bool {
	return c.State().Active()
}

// IsPaused reports whether the engine was last paused.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// IsDisposed reports whether Dispose has been called.
func (c *Controller) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// EventsReady reports whether the event stream is wired.
func (c *Controller) EventsReady() bool {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	return c.eventsReady
}

// Events returns the stream of every native event.
func (c *Controller) Events() *Stream[protocol.Event] { return c.events }

// Messages returns the stream of engine messages, text and binary.
func (c *Controller) Messages() *Stream[Message] { return c.messages }

// Scenes returns the stream of scene loads.
func (c *Controller) Scenes() *Stream[protocol.Scene] { return c.scenes }

// Codec returns the binary codec used for outbound payloads.
func (c *Controller) Codec() *transfer.Codec { return c.codec }

// Stats returns a snapshot of controller activity.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	s := c.stats
	s.State = c.state
	s.QueueLength = c.queue.len()
	c.mu.Unlock()

	s.StreamDrops = c.events.Dropped() + c.messages.Dropped() + c.scenes.Dropped()
	s.ActiveTransfers = len(c.assembler.Active())
	s.Batch = c.batcher.Stats()
	s.Throttle = c.throttler.Stats()
	s.Delta = c.deltas.Stats()
	return s
}

// Create asks the native side to create the engine. Calls that fail because
// the native handler is not registered yet are retried with exponential
// backoff; running out of attempts yields a timeout error. On success the
// pre-ready queue is replayed in order before Create returns.
//
// Create on a ready engine returns true without calling the native side.
func (c *Controller) Create(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, c.disposedErr(protocol.MethodCreate)
	}
	switch {
	case c.state.Active():
		c.mu.Unlock()
		return true, nil
	case !c.state.canCreate():
		state := c.state
		c.mu.Unlock()
		return false, c.notReady(protocol.MethodCreate, state)
	}
	c.state = StateCreating
	c.mu.Unlock()

	c.logger.Info("creating engine")

	ctx, release := c.bound(ctx)
	defer release()

	var created bool
	runner := retry.Runner{
		Policy:    c.cfg.CreateRetry,
		Clock:     c.clock,
		Retryable: isNotRegistered,
		Logger:    c.logger,
	}
	err := runner.Do(ctx, protocol.MethodCreate, func(ctx context.Context, attempt int) error {
		if c.IsDisposed() {
			return c.disposedErr(protocol.MethodCreate)
		}
		res, err := channel.Call(ctx, c.ch, protocol.Create{Options: c.cfg.CreateOptions})
		if err != nil {
			return err
		}
		created = protocol.ToBool(res)
		return nil
	})

	if err != nil {
		if c.IsDisposed() {
			return false, c.disposedErr(protocol.MethodCreate)
		}
		c.fail()
		var exhausted *retry.ExhaustedError
		switch {
		case stderrors.As(err, &exhausted):
			c.logger.Error("native handler never registered", "attempts", exhausted.Attempts)
			return false, errors.New(errors.CodeCreateTimeout).
				WithCall("", protocol.MethodCreate).
				WithEngine(c.engine.String()).
				Detailf("no native handler after %d attempts", exhausted.Attempts).
				Wrap(err)
		case errors.KindOf(err) == errors.KindDisposed:
			return false, err
		default:
			c.logger.Error("create failed", "error", err)
			return false, c.commError("", protocol.MethodCreate, err)
		}
	}
	if !created {
		c.fail()
		c.logger.Warn("native side declined create")
		return false, nil
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, c.disposedErr(protocol.MethodCreate)
	}
	c.state = StateReady
	c.paused = false
	c.replaying = true
	c.mu.Unlock()

	c.logger.Info("engine ready")
	c.replayQueue(ctx)
	return true, nil
}

// bound derives a context that also ends when the controller is disposed.
func (c *Controller) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// fail moves a live controller to the error state.
func (c *Controller) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.disposed && !c.state.Terminal() {
		c.state = StateError
	}
}

// replayQueue sends everything queued before the engine became ready. Sends
// queued while the replay runs are appended and replayed too, so delivery
// order always matches enqueue order.
func (c *Controller) replayQueue(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.disposed || c.queue.len() == 0 {
			c.replaying = false
			c.mu.Unlock()
			return
		}
		items := c.queue.drain()
		c.mu.Unlock()

		c.logger.Debug("replaying queued messages", "count", len(items))
		for _, m := range items {
			var err error
			if m.isJSON {
				err = c.SendJSONMessage(ctx, m.target, m.method, m.json)
			} else {
				err = c.SendMessage(ctx, m.target, m.method, m.text)
			}
			if err != nil {
				c.logger.Warn("queued message failed", "target", m.target, "method", m.method, "error", err)
				continue
			}
			c.mu.Lock()
			c.stats.Replayed++
			c.mu.Unlock()
		}
	}
}

// SetupEvents wires the native event stream. events#setup must confirm with
// a truthy reply; a missing handler or a false reply is retried after the
// configured initial delay and backoff. Once wired, further calls are no-ops.
func (c *Controller) SetupEvents(ctx context.Context) error {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()
	if c.eventsReady {
		return nil
	}
	if c.IsDisposed() {
		return c.disposedErr(protocol.MethodEventsSetup)
	}

	ctx, release := c.bound(ctx)
	defer release()

	var stop func()
	runner := retry.Runner{
		Policy: c.cfg.EventRetry,
		Clock:  c.clock,
		Retryable: func(err error) bool {
			return isNotRegistered(err) || stderrors.Is(err, errEventsNotWired)
		},
		Logger: c.logger,
	}
	err := runner.Do(ctx, protocol.MethodEventsSetup, func(ctx context.Context, attempt int) error {
		if c.IsDisposed() {
			return c.disposedErr(protocol.MethodEventsSetup)
		}
		res, err := channel.Call(ctx, c.ch, protocol.SetupEvents{})
		if err != nil {
			return err
		}
		if !protocol.ToBool(res) {
			return errEventsNotWired
		}
		s, err := c.ch.Listen(c.handleEvent)
		if err != nil {
			return err
		}
		stop = s
		return nil
	})
	if err != nil {
		if c.IsDisposed() {
			return c.disposedErr(protocol.MethodEventsSetup)
		}
		var exhausted *retry.ExhaustedError
		switch {
		case stderrors.As(err, &exhausted):
			c.logger.Error("event stream never became available", "attempts", exhausted.Attempts)
			return errors.New(errors.CodeEventSetupTimeout).
				WithCall("", protocol.MethodEventsSetup).
				WithEngine(c.engine.String()).
				Detailf("not wired after %d attempts", exhausted.Attempts).
				Wrap(err)
		case errors.KindOf(err) == errors.KindDisposed:
			return err
		default:
			return c.commError("", protocol.MethodEventsSetup, err)
		}
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		stop()
		return c.disposedErr(protocol.MethodEventsSetup)
	}
	c.stopEvents = stop
	c.mu.Unlock()

	c.eventsReady = true
	c.logger.Debug("event stream wired")
	return nil
}

// Start runs SetupEvents and Create concurrently and returns Create's
// result. An event setup failure is logged; it does not fail Start.
func (c *Controller) Start(ctx context.Context) (bool, error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.SetupEvents(ctx); err != nil {
			c.logger.Warn("event setup failed", "error", err)
		}
	}()
	ok, err := c.Create(ctx)
	<-done
	return ok, err
}

// requireActive fails unless commands may be sent now.
func (c *Controller) requireActive(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return c.disposedErr(method)
	}
	if !c.state.Active() {
		return c.notReady(method, c.state)
	}
	return nil
}

// call sends req on an active engine and wraps channel failures.
func (c *Controller) call(ctx context.Context, req protocol.Request, target string) (any, error) {
	method := req.Method()
	if !c.engine.Supports(method) {
		return nil, c.unsupported(method)
	}
	if err := c.requireActive(method); err != nil {
		return nil, err
	}
	res, err := channel.Call(ctx, c.ch, req)

	c.mu.Lock()
	if err != nil {
		c.stats.SendFailures++
	} else {
		c.stats.Sent++
	}
	c.mu.Unlock()

	if err != nil {
		return nil, c.commError(target, method, err)
	}
	return res, nil
}

// query sends a plugin-level request. Those need no engine instance, only a
// live controller.
func (c *Controller) query(ctx context.Context, req protocol.Request) (any, error) {
	if c.IsDisposed() {
		return nil, c.disposedErr(req.Method())
	}
	res, err := channel.Call(ctx, c.ch, req)
	if err != nil {
		return nil, c.commError("", req.Method(), err)
	}
	return res, nil
}

// Pause pauses the engine.
func (c *Controller) Pause(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.Pause{}, ""); err != nil {
		return err
	}
	c.setState(StatePaused, true)
	return nil
}

// Resume resumes a paused engine.
func (c *Controller) Resume(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.Resume{}, ""); err != nil {
		return err
	}
	c.setState(StateReady, false)
	return nil
}

// Unload unloads engine content. The instance stays alive and Create may
// be called again.
func (c *Controller) Unload(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.Unload{}, ""); err != nil {
		return err
	}
	c.setState(StateUnloaded, false)
	return nil
}

func (c *Controller) setState(s State, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.state.Terminal() {
		return
	}
	c.state = s
	c.paused = paused
}

// Quit tears the engine down. It is safe to call in any state: on a
// controller that never created an engine, or one already destroyed, it
// does nothing. The controller is destroyed afterwards even if the native
// side reports an error.
func (c *Controller) Quit(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed || c.state.Terminal() {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.mu.Unlock()

	var err error
	if prev != StateUninitialized {
		_, err = channel.Call(ctx, c.ch, protocol.Quit{})
	}

	c.mu.Lock()
	c.state = StateDestroyed
	c.paused = false
	c.mu.Unlock()

	if err != nil {
		return c.commError("", protocol.MethodQuit, err)
	}
	c.logger.Info("engine quit")
	return nil
}

// Dispose releases the controller. It marks the controller disposed so
// later calls fail fast, cancels the event subscription, closes the
// streams, discards partial inbound transfers, clears the pre-ready queue,
// stops the batch and throttle timers, and finally asks the native side to
// quit. A quit failure is logged. Dispose is idempotent.
func (c *Controller) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	prev := c.state
	stop := c.stopEvents
	c.stopEvents = nil
	c.mu.Unlock()

	c.cancelLife()

	if stop != nil {
		stop()
	}

	c.events.close()
	c.messages.close()
	c.scenes.close()

	if ids := c.assembler.CancelAll(); len(ids) > 0 {
		c.logger.Debug("discarded partial transfers", "transfers", ids)
	}

	c.mu.Lock()
	if n := c.queue.len(); n > 0 {
		c.logger.Debug("discarding queued messages", "count", n)
	}
	c.queue.clear()
	c.mu.Unlock()

	if n := c.batcher.Close(); n > 0 {
		c.logger.Debug("discarding batched messages", "count", n)
	}
	c.throttler.Close()

	if prev != StateUninitialized && !prev.Terminal() {
		if _, err := channel.Call(ctx, c.ch, protocol.Quit{}); err != nil {
			c.logger.Error("quit during dispose failed", "error", err)
		}
	}

	c.mu.Lock()
	c.state = StateDestroyed
	c.paused = false
	c.mu.Unlock()

	if err := c.ch.Close(); err != nil {
		c.logger.Warn("channel close failed", "error", err)
	}
	c.logger.Info("engine disposed")
}

// Close disposes the controller with a background context.
func (c *Controller) Close() error {
	c.Dispose(context.Background())
	return nil
}
