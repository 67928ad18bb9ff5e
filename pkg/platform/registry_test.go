package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubHandler struct{ name string }

func (h *stubHandler) HandleCall(context.Context, string, map[string]any) (any, error) {
	return h.name, nil
}

func (h *stubHandler) Subscribe(func(protocol.Event)) func() { return func() {} }

func TestRegistryRegisterLookup(t *testing.T) {
	var registered, removed []int64
	r := NewRegistry(
		WithLogger(testLogger()),
		OnRegister(func(id int64) { registered = append(registered, id) }),
		OnUnregister(func(id int64) { removed = append(removed, id) }),
	)

	if _, ok := r.Lookup(1); ok {
		t.Fatal("Lookup() on empty registry succeeded")
	}
	if err := r.Register(1, &stubHandler{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(1, &stubHandler{name: "b"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate Register() err = %v, want ErrAlreadyRegistered", err)
	}
	if err := r.Register(2, nil); err == nil {
		t.Error("Register(nil) succeeded")
	}

	h, ok := r.Lookup(1)
	if !ok || h.(*stubHandler).name != "a" {
		t.Errorf("Lookup(1) = %v, %v", h, ok)
	}
	if !r.Unregister(1) {
		t.Error("Unregister(1) = false")
	}
	if r.Unregister(1) {
		t.Error("second Unregister(1) = true")
	}
	if len(registered) != 1 || len(removed) != 1 {
		t.Errorf("callbacks: registered=%v removed=%v", registered, removed)
	}
}

func TestRegistryNextViewIDSkipsExternalIDs(t *testing.T) {
	r := NewRegistry(WithLogger(testLogger()))
	if id := r.NextViewID(); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	if err := r.Register(10, &stubHandler{}); err != nil {
		t.Fatal(err)
	}
	if id := r.NextViewID(); id != 11 {
		t.Errorf("next id = %d, want 11", id)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry(WithLogger(testLogger()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := r.NextViewID()
			_ = r.Register(id, &stubHandler{})
		}()
		go func(id int64) {
			defer wg.Done()
			r.Lookup(id)
		}(int64(i))
	}
	wg.Wait()

	views := r.Views()
	if len(views) != 50 || r.Len() != 50 {
		t.Fatalf("len = %d, want 50", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i-1] >= views[i] {
			t.Fatalf("Views() not sorted: %v", views)
		}
	}
}

func TestFactoryRacesRegistration(t *testing.T) {
	r := NewRegistry(WithLogger(testLogger()))
	release := make(chan struct{})
	f := NewFactory(r, EmbedderFunc(func(ctx context.Context, req EmbedRequest) error {
		<-release
		return req.Registry.Register(req.ViewID, &stubHandler{name: "unity"})
	}), testLogger())

	view := f.Create(context.Background(), protocol.EngineUnity, nil)
	if view.ID != 1 || view.Channel.ViewID() != 1 {
		t.Fatalf("view = %+v", view)
	}

	_, err := view.Channel.Invoke(context.Background(), protocol.MethodCreate, nil)
	if !errors.Is(err, channel.ErrNotRegistered) {
		t.Fatalf("early Invoke() err = %v, want ErrNotRegistered", err)
	}

	close(release)
	f.Wait()

	got, err := view.Channel.Invoke(context.Background(), protocol.MethodCreate, nil)
	if err != nil || got != "unity" {
		t.Errorf("Invoke() = %v, %v", got, err)
	}
}
