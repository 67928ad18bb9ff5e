package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// RemoteConfig configures a websocket channel.
type RemoteConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the websocket handshake in Dial.
	HandshakeTimeout time.Duration

	// CompressThreshold is the frame payload size above which frames are
	// gzip compressed. Negative disables compression.
	CompressThreshold int

	// Header is sent with the handshake request.
	Header http.Header

	Logger *slog.Logger
}

// DefaultRemoteConfig returns the websocket channel defaults.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		CompressThreshold: protocol.CompressThreshold,
	}
}

func (c RemoteConfig) withDefaults() RemoteConfig {
	def := DefaultRemoteConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = def.CompressThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type callResult struct {
	value any
	err   error
}

// Remote is a channel to a native host over a websocket connection.
type Remote struct {
	conn   *websocket.Conn
	cfg    RemoteConfig
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu         sync.Mutex
	pending    map[uint64]chan callResult
	listeners  map[int]func(protocol.Event)
	listenerID int

	closed  atomic.Bool
	done    chan struct{}
	lastErr error
}

// Dial connects to a native host view endpoint such as
// ws://localhost:8765/views/1/ws.
func Dial(ctx context.Context, url string, cfg RemoteConfig) (*Remote, error) {
	cfg = cfg.withDefaults()
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, url, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("channel: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("channel: dial %s: %w", url, err)
	}
	return NewRemote(conn, cfg), nil
}

// NewRemote wraps an established connection and starts its read loop.
func NewRemote(conn *websocket.Conn, cfg RemoteConfig) *Remote {
	cfg = cfg.withDefaults()
	r := &Remote{
		conn:      conn,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "remote_channel", "remote", conn.RemoteAddr().String()),
		pending:   make(map[uint64]chan callResult),
		listeners: make(map[int]func(protocol.Event)),
		done:      make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Done is closed when the connection ends.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Err returns the read error that ended the connection, if any.
func (r *Remote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Invoke implements MethodChannel.
func (r *Remote) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	id := r.nextID.Add(1)
	payload, err := protocol.EncodeCall(&protocol.Call{ID: id, Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	ch := make(chan callResult, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	if err := r.writeFrame(protocol.NewFrame(protocol.FrameCall, payload)); err != nil {
		r.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	case <-r.done:
		r.forget(id)
		return nil, ErrClosed
	}
}

func (r *Remote) forget(id uint64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Listen implements EventSource. Events are delivered in arrival order on
// the connection's read goroutine.
func (r *Remote) Listen(fn func(protocol.Event)) (func(), error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	r.mu.Lock()
	id := r.listenerID
	r.listenerID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}, nil
}

func (r *Remote) writeFrame(f *protocol.Frame) error {
	if r.cfg.CompressThreshold > 0 {
		if _, err := f.Compress(r.cfg.CompressThreshold); err != nil {
			return err
		}
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}
	r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		return fmt.Errorf("channel: write %s frame: %w", f.Type, err)
	}
	return nil
}

func (r *Remote) readLoop() {
	defer r.shutdown(nil)

	for {
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			if !r.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				r.logger.Error("read error", "error", err)
			}
			r.shutdown(err)
			return
		}

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			r.logger.Error("frame decode error", "error", err)
			continue
		}
		body, err := frame.Body()
		if err != nil {
			r.logger.Error("frame body error", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameReply:
			reply, err := protocol.DecodeReply(body)
			if err != nil {
				r.logger.Error("reply decode error", "error", err)
				continue
			}
			r.resolve(reply.ID, callResult{value: reply.Result})

		case protocol.FrameError:
			ce, err := protocol.DecodeCallError(body)
			if err != nil {
				r.logger.Error("error frame decode error", "error", err)
				continue
			}
			r.resolve(ce.ID, callResult{err: remoteError(ce)})

		case protocol.FrameEvent:
			ev, err := protocol.DecodeEvent(body)
			if err != nil {
				r.logger.Error("event decode error", "error", err)
				continue
			}
			r.emit(ev)

		case protocol.FrameClose:
			r.logger.Info("native host closing", "reason", string(body))
			return

		default:
			r.logger.Warn("unexpected frame type", "type", frame.Type)
		}
	}
}

func (r *Remote) resolve(id uint64, res callResult) {
	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("reply for unknown call", "id", id)
		return
	}
	ch <- res
}

func (r *Remote) emit(ev protocol.Event) {
	r.mu.Lock()
	fns := make([]func(protocol.Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// remoteError maps a wire error to the channel's error vocabulary.
func remoteError(ce *protocol.CallError) error {
	if ce.Code == protocol.ErrNotRegistered {
		return fmt.Errorf("%w: %s", ErrNotRegistered, ce.Message)
	}
	return ce
}

// Close sends a close frame and tears down the connection.
func (r *Remote) Close() error {
	if r.closed.Load() {
		return nil
	}
	_ = r.writeFrame(protocol.NewFrame(protocol.FrameClose, []byte("client closing")))
	r.shutdown(nil)
	return nil
}

func (r *Remote) shutdown(cause error) {
	if r.closed.Swap(true) {
		return
	}
	r.writeMu.Lock()
	r.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	r.conn.Close()
	r.writeMu.Unlock()

	r.mu.Lock()
	r.lastErr = cause
	pending := r.pending
	r.pending = make(map[uint64]chan callResult)
	clear(r.listeners)
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: ErrClosed}
	}
	close(r.done)
}
