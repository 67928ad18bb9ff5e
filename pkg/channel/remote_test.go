package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHost answers calls: "missing" replies NotRegistered, "big" replies with
// a large compressible string, anything else echoes the method, and every
// call is followed by an onMessage event.
func fakeHost(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.DecodeFrame(msg)
			if err != nil {
				return
			}
			if frame.Type == protocol.FrameClose {
				return
			}
			body, _ := frame.Body()
			call, err := protocol.DecodeCall(body)
			if err != nil {
				return
			}

			var out *protocol.Frame
			switch call.Method {
			case "missing":
				out = protocol.NewFrame(protocol.FrameError, protocol.EncodeCallError(&protocol.CallError{
					ID: call.ID, Code: protocol.ErrNotRegistered, Message: "view 1",
				}))
			case "big":
				p, _ := protocol.EncodeReply(&protocol.Reply{ID: call.ID, Result: strings.Repeat("z", 20000)})
				out = protocol.NewFrame(protocol.FrameReply, p)
				out.Compress(protocol.CompressThreshold)
			default:
				p, _ := protocol.EncodeReply(&protocol.Reply{ID: call.ID, Result: call.Method})
				out = protocol.NewFrame(protocol.FrameReply, p)
			}
			ev, _ := protocol.EncodeEvent(protocol.MessageEvent("Host", "ack", call.Method))
			if err := conn.WriteMessage(websocket.BinaryMessage, out.Encode()); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, protocol.NewFrame(protocol.FrameEvent, ev).Encode()); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestRemoteInvokeAndEvents(t *testing.T) {
	srv := fakeHost(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := Dial(ctx, wsURL(srv), RemoteConfig{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	events := make(chan protocol.Event, 4)
	stop, err := r.Listen(func(ev protocol.Event) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	got, err := r.Invoke(ctx, protocol.MethodPause, nil)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != protocol.MethodPause {
		t.Errorf("Invoke() = %v", got)
	}

	select {
	case ev := <-events:
		msg, ok := ev.Message()
		if !ok || msg.Data != protocol.MethodPause {
			t.Errorf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	big, err := r.Invoke(ctx, "big", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := big.(string); len(s) != 20000 {
		t.Errorf("compressed reply length = %d", len(s))
	}
}

func TestRemoteNotRegistered(t *testing.T) {
	srv := fakeHost(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Dial(ctx, wsURL(srv), RemoteConfig{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = r.Invoke(ctx, "missing", nil)
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("err = %v, want ErrNotRegistered", err)
	}
}

func TestRemoteCloseFailsCalls(t *testing.T) {
	srv := fakeHost(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Dial(ctx, wsURL(srv), RemoteConfig{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatal("Done not closed")
	}
	if _, err := r.Invoke(ctx, "x", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Invoke() after Close err = %v, want ErrClosed", err)
	}
}
