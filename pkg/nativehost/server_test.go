package nativehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/engine"
	"github.com/vango-dev/enginebridge/pkg/platform"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func newRegistry() *platform.Registry {
	return platform.NewRegistry(platform.WithLogger(testLogger()))
}

func embedRequest(reg *platform.Registry, id int64, engine protocol.EngineType) platform.EmbedRequest {
	return platform.EmbedRequest{ViewID: id, EngineType: engine, Registry: reg}
}

func startServer(t *testing.T, reg *platform.Registry, emb platform.Embedder, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	cfg.Logger = testLogger()
	srv := NewServer(reg, emb, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func viewURL(ts *httptest.Server, id int64) string {
	return fmt.Sprintf("ws%s/views/%d/ws", strings.TrimPrefix(ts.URL, "http"), id)
}

func dial(t *testing.T, ts *httptest.Server, id int64) *channel.Remote {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := channel.Dial(ctx, viewURL(ts, id), channel.RemoteConfig{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestServerReportsNotRegistered(t *testing.T) {
	_, ts := startServer(t, newRegistry(), nil, ServerConfig{})
	r := dial(t, ts, 5)

	_, err := r.Invoke(context.Background(), protocol.MethodGetEngineType, nil)
	if !errors.Is(err, channel.ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestServerMapsHandlerErrors(t *testing.T) {
	reg := newRegistry()
	rt := NewHeadlessRuntime(HeadlessConfig{Logger: testLogger()})
	reg.Register(3, NewHandler(rt, HandlerConfig{ViewID: 3, Logger: testLogger()}))
	_, ts := startServer(t, reg, nil, ServerConfig{})
	r := dial(t, ts, 3)

	_, err := r.Invoke(context.Background(), protocol.MethodLoadLevel, map[string]any{"levelName": "x"})
	var ce *protocol.CallError
	if !errors.As(err, &ce) || ce.Code != protocol.ErrNotImplemented {
		t.Fatalf("err = %v, want NotImplemented call error", err)
	}

	_, err = r.Invoke(context.Background(), protocol.MethodSendMessage, map[string]any{"target": "Echo"})
	if !errors.As(err, &ce) || ce.Code != protocol.ErrInvalidCall {
		t.Fatalf("err = %v, want InvalidCall", err)
	}
}

// A controller talking to the server over a real websocket: the view is
// provisioned on connect after a delay, so the first create and event setup
// attempts race the registration and must be retried.
func TestServerEndToEnd(t *testing.T) {
	reg := newRegistry()
	emb := NewEmbedder(EmbedderConfig{Delay: 30 * time.Millisecond, Logger: testLogger()})
	_, ts := startServer(t, reg, emb, ServerConfig{AutoProvision: true, EngineType: protocol.EngineUnreal})

	remote := dial(t, ts, 1)
	ctrl := engine.New(remote, engine.Config{EngineType: protocol.EngineUnreal, Logger: testLogger()})
	defer ctrl.Close()

	msgs, cancelMsgs := ctrl.Messages().Subscribe()
	defer cancelMsgs()
	scenes, cancelScenes := ctrl.Scenes().Subscribe()
	defer cancelScenes()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := ctrl.Start(ctx)
	if err != nil || !ok {
		t.Fatalf("start = %v, %v", ok, err)
	}
	if !ctrl.IsReady() || !ctrl.EventsReady() {
		t.Fatalf("state %v, events ready %v", ctrl.State(), ctrl.EventsReady())
	}

	if err := ctrl.SendMessage(ctx, "Echo", "Ping", "hello"); err != nil {
		t.Fatal(err)
	}
	if m := receive(t, msgs); m.Method != "Ping" || m.Data != "hello" {
		t.Errorf("echo = %+v", m)
	}

	big := bytes.Repeat([]byte("engine-bridge "), 300*1024/14)
	if err := ctrl.SendBinaryMessage(ctx, "Echo", "Blob", big, true); err != nil {
		t.Fatal(err)
	}
	m := receive(t, msgs)
	if !m.IsBinary() || !bytes.Equal(m.Binary, big) || m.TransferID == "" {
		t.Errorf("binary echo: %d bytes, transfer %q", len(m.Binary), m.TransferID)
	}

	if err := ctrl.LoadLevel(ctx, "Arena"); err != nil {
		t.Fatal(err)
	}
	if s := receive(t, scenes); s.Name != "Arena" || !s.IsLoaded {
		t.Errorf("scene = %+v", s)
	}

	if err := ctrl.ApplyQualitySettings(ctx, protocol.QualitySettings{ShadowQuality: protocol.Int(1)}); err != nil {
		t.Fatal(err)
	}
	q, err := ctrl.QualitySettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if q.ShadowQuality == nil || *q.ShadowQuality != 1 || q.TargetFrameRate == nil || *q.TargetFrameRate != 60 {
		t.Errorf("quality = %v", q.ToMap())
	}

	if err := ctrl.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if !ctrl.IsPaused() {
		t.Error("controller not paused")
	}
}

func TestServerCreateViewAndHealth(t *testing.T) {
	reg := newRegistry()
	emb := NewEmbedder(EmbedderConfig{Logger: testLogger()})
	_, ts := startServer(t, reg, emb, ServerConfig{})

	resp, err := http.Post(ts.URL+"/views", "application/json", strings.NewReader(`{"engineType":"unreal"}`))
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		ViewID int64  `json:"viewId"`
		Path   string `json:"path"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ViewID != 1 || created.Path != "/views/1/ws" {
		t.Fatalf("status %d, body %+v", resp.StatusCode, created)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if h, ok := reg.Lookup(1); ok {
			if h.(*Handler).Runtime().EngineType() != protocol.EngineUnreal {
				t.Error("wrong engine type")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("view never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	if health["status"] != "ok" || health["views"] != float64(1) {
		t.Errorf("health = %v", health)
	}
}

func TestServerShutdownClosesConnections(t *testing.T) {
	srv, ts := startServer(t, newRegistry(), nil, ServerConfig{})
	r := dial(t, ts, 1)

	// Wait for the server side of the connection to be tracked.
	deadline := time.Now().Add(5 * time.Second)
	for srv.Connections() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never tracked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("remote not closed by shutdown")
	}
	if _, err := r.Invoke(context.Background(), protocol.MethodGetEngineType, nil); !errors.Is(err, channel.ErrClosed) {
		t.Errorf("invoke after shutdown = %v", err)
	}
}
