package nativehost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// conn serves one host connection for one view. Calls are handled in
// arrival order on the read goroutine; events are written from whichever
// goroutine emits them, serialized by writeMu.
type conn struct {
	ws     *websocket.Conn
	server *Server
	viewID int64
	logger *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	mu          sync.Mutex
	subscribed  channel.Handler
	unsubscribe func()
}

func newConn(s *Server, ws *websocket.Conn, viewID int64) *conn {
	return &conn{
		ws:     ws,
		server: s,
		viewID: viewID,
		logger: s.logger.With("view_id", viewID, "remote", ws.RemoteAddr().String()),
	}
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.close("")

	c.logger.Debug("host connected")
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			c.logger.Error("frame decode error", "error", err)
			continue
		}
		body, err := frame.Body()
		if err != nil {
			c.logger.Error("frame body error", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameCall:
			call, err := protocol.DecodeCall(body)
			if err != nil {
				c.logger.Error("call decode error", "error", err)
				continue
			}
			c.handleCall(ctx, call)

		case protocol.FrameClose:
			c.logger.Debug("host closing", "reason", string(body))
			return

		default:
			c.logger.Warn("unexpected frame type", "type", frame.Type)
		}
	}
}

func (c *conn) handleCall(ctx context.Context, call *protocol.Call) {
	h, ok := c.server.registry.Lookup(c.viewID)
	if !ok {
		c.writeError(call.ID, protocol.ErrNotRegistered, fmt.Sprintf("view %d not registered", c.viewID))
		return
	}

	result, err := c.invoke(ctx, h, call)
	if err != nil {
		c.writeError(call.ID, ErrorCode(err), err.Error())
		return
	}
	if call.Method == protocol.MethodEventsSetup && result == true {
		c.subscribe(h)
	}
	payload, err := protocol.EncodeReply(&protocol.Reply{ID: call.ID, Result: result})
	if err != nil {
		c.writeError(call.ID, protocol.ErrEngineFailure, err.Error())
		return
	}
	c.write(protocol.NewFrame(protocol.FrameReply, payload))
}

func (c *conn) invoke(ctx context.Context, h channel.Handler, call *protocol.Call) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("handler panic", "method", call.Method, "panic", p)
			err = &protocol.CallError{ID: call.ID, Code: protocol.ErrHandlerPanic, Message: fmt.Sprint(p)}
		}
	}()
	return h.HandleCall(ctx, call.Method, call.Args)
}

// subscribe forwards h's events to the host. A handler replaced after a
// re-registration gets a fresh subscription.
func (c *conn) subscribe(h channel.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == h {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.subscribed = h
	c.unsubscribe = h.Subscribe(c.forward)
}

func (c *conn) forward(ev protocol.Event) {
	payload, err := protocol.EncodeEvent(ev)
	if err != nil {
		c.logger.Error("event encode error", "event", ev.Type, "error", err)
		return
	}
	c.write(protocol.NewFrame(protocol.FrameEvent, payload))
}

func (c *conn) writeError(id uint64, code protocol.ErrorCode, msg string) {
	c.write(protocol.NewFrame(protocol.FrameError, protocol.EncodeCallError(&protocol.CallError{
		ID:      id,
		Code:    code,
		Message: msg,
	})))
}

func (c *conn) write(f *protocol.Frame) {
	if c.server.cfg.CompressThreshold > 0 {
		if _, err := f.Compress(c.server.cfg.CompressThreshold); err != nil {
			c.logger.Error("frame compress error", "error", err)
			return
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		c.logger.Debug("write failed", "type", f.Type, "error", err)
	}
}

// close detaches from the handler and closes the socket. A non-empty reason
// is sent to the host in a close frame first.
func (c *conn) close(reason string) {
	if reason != "" && !c.closed.Load() {
		c.write(protocol.NewFrame(protocol.FrameClose, []byte(reason)))
	}
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.Close()
	c.writeMu.Unlock()
	c.logger.Debug("host disconnected")
}
