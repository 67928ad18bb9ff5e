package router

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouteToHandler(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	var got []Message
	var bin [][]byte
	r.Handle("Player", "Move", func(m Message) { got = append(got, m) })
	r.HandleBinary("Player", "Avatar", func(method string, data []byte) { bin = append(bin, data) })

	if !r.Route(Message{Target: "Player", Method: "Move", Data: "1,2"}) {
		t.Fatal("Route() = false")
	}
	if !r.Route(Message{Target: "Player", Method: "Avatar", Binary: []byte{1}}) {
		t.Fatal("Route(binary) = false")
	}
	if len(got) != 1 || got[0].Data != "1,2" || len(bin) != 1 {
		t.Errorf("got %v, bin %v", got, bin)
	}
	if s := r.Stats(); s.Routed != 2 || s.CachedHandlers != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestKnownTargetWithoutMethodDrops(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	if err := r.RegisterTarget("HUD", false); err != nil {
		t.Fatal(err)
	}
	if r.Route(Message{Target: "HUD", Method: "Missing", Data: "x"}) {
		t.Error("Route() to a missing method = true")
	}
	if s := r.Stats(); s.Dropped != 1 || s.Queued != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestUnknownTargetQueuedUntilRegistered(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	var got []string
	r.Handle("Late", "Hello", func(m Message) { got = append(got, m.Data.(string)) })

	// A handler alone routes; the queue only holds messages nothing can take.
	r.RemoveHandler("Late", "Hello")
	for i := 0; i < 3; i++ {
		r.Route(Message{Target: "Late", Method: "Hello", Data: fmt.Sprint(i)})
	}
	r.Route(Message{Target: "Other", Method: "Hello", Data: "other"})
	if r.Stats().Queued != 4 {
		t.Fatalf("Queued = %d, want 4", r.Stats().Queued)
	}

	r.Handle("Late", "Hello", func(m Message) { got = append(got, m.Data.(string)) })
	if err := r.RegisterTarget("Late", true); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "0" || got[2] != "2" {
		t.Errorf("flushed = %v, want [0 1 2]", got)
	}
	if r.Stats().Queued != 1 {
		t.Errorf("Queued = %d, want 1 for the still unknown target", r.Stats().Queued)
	}
	if err := r.RegisterTarget("Late", false); !errors.Is(err, ErrTargetExists) {
		t.Errorf("re-register singleton err = %v", err)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	r := New(Config{MaxQueueSize: 3, Logger: testLogger()})
	for i := 0; i < 5; i++ {
		r.Route(Message{Target: "T", Method: "m", Data: i})
	}
	var got []any
	r.Handle("T", "m", func(m Message) { got = append(got, m.Data) })
	r.RegisterTarget("T", false)

	if fmt.Sprint(got) != "[2 3 4]" {
		t.Errorf("delivered %v, want [2 3 4]", got)
	}
	if s := r.Stats(); s.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", s.Dropped)
	}
}

func TestSetMaxQueueSizeTrims(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	for i := 0; i < 10; i++ {
		r.Route(Message{Target: "T", Method: "m", Data: i})
	}
	r.SetMaxQueueSize(4)
	if s := r.Stats(); s.Queued != 4 || s.Dropped != 6 {
		t.Errorf("stats = %+v", s)
	}
	if n := r.ClearQueue(); n != 4 {
		t.Errorf("ClearQueue() = %d", n)
	}
}

func TestDisableQueue(t *testing.T) {
	r := New(Config{DisableQueue: true, Logger: testLogger()})
	if r.Route(Message{Target: "Nobody", Method: "m"}) {
		t.Error("Route() to unknown target with queue disabled = true")
	}
}

func TestUnregisterTargetRemovesHandlers(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	r.RegisterTarget("Cam", false)
	r.RegisterTarget("Cam", false)
	r.Handle("Cam", "Zoom", func(Message) {})
	r.HandleBinary("Cam", "Frame", func(string, []byte) {})
	r.Handle("Camera", "Zoom", func(Message) {})

	infos := r.Targets()
	if len(infos) != 1 || infos[0].Methods != 1 {
		t.Fatalf("Targets() = %+v", infos)
	}
	if !r.UnregisterTarget("Cam") || r.IsTargetRegistered("Cam") {
		t.Fatal("UnregisterTarget failed")
	}
	if s := r.Stats(); s.CachedHandlers != 1 {
		t.Errorf("CachedHandlers = %d, want 1 (Camera:Zoom survives)", s.CachedHandlers)
	}
}

func TestHandleAllIsFallback(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	var specific, fallback []string
	r.Handle("Echo", "Ping", func(m Message) { specific = append(specific, m.Method) })
	r.HandleAll("Echo", func(m Message) {
		kind := "text"
		if m.IsBinary() {
			kind = "binary"
		}
		fallback = append(fallback, m.Method+"/"+kind)
	})

	r.Route(Message{Target: "Echo", Method: "Ping"})
	r.Route(Message{Target: "Echo", Method: "Other", Data: "x"})
	r.Route(Message{Target: "Echo", Method: "Blob", Binary: []byte{0}})

	if fmt.Sprint(specific) != "[Ping]" || fmt.Sprint(fallback) != "[Other/text Blob/binary]" {
		t.Errorf("specific %v fallback %v", specific, fallback)
	}
}
