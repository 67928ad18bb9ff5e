package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sent struct {
	target, method string
	data           any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recorder) send(_ context.Context, target, method string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{target, method, data})
	return nil
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

func newTestBatcher(cfg Config) (*Batcher, *recorder, *clock.Fake) {
	fc := clock.NewFake(time.Unix(0, 0))
	rec := &recorder{}
	cfg.Clock = fc
	cfg.Logger = testLogger()
	return New(cfg, rec.send), rec, fc
}

func TestCoalescing(t *testing.T) {
	b, rec, fc := newTestBatcher(Config{})

	for _, v := range []string{"1", "2", "3"} {
		if err := b.Queue("Player", "Move", v); err != nil {
			t.Fatal(err)
		}
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", b.Pending())
	}

	fc.Advance(DefaultFlushInterval)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(got))
	}
	if got[0].target != "Player" || got[0].method != "Move" || got[0].data != "3" {
		t.Errorf("sent %+v, want the last value", got[0])
	}
	if s := b.Stats(); s.Coalesced != 2 || s.DirectSends != 1 {
		t.Errorf("Stats() = %+v, want Coalesced=2 DirectSends=1", s)
	}
}

func TestBatchEnvelopePreservesOrder(t *testing.T) {
	b, rec, fc := newTestBatcher(Config{})

	_ = b.Queue("A", "m", "a1")
	_ = b.Queue("B", "m", map[string]any{"v": 1})
	_ = b.Queue("A", "m", "a2")
	_ = b.Queue("C", "m", "c1")

	fc.Advance(DefaultFlushInterval - time.Millisecond)
	if len(rec.all()) != 0 {
		t.Fatal("flushed before the interval elapsed")
	}
	fc.Advance(time.Millisecond)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("sent %d calls, want one batch", len(got))
	}
	if got[0].target != protocol.BatchTarget {
		t.Fatalf("target = %q, want %q", got[0].target, protocol.BatchTarget)
	}
	msgs, err := Unpack(got[0].data.(map[string]any))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"A", "B", "C"}
	if len(msgs) != len(want) {
		t.Fatalf("unpacked %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Target != want[i] {
			t.Errorf("message %d target = %q, want %q", i, m.Target, want[i])
		}
	}
	if msgs[0].Data != "a2" {
		t.Errorf("coalesced slot data = %v, want a2", msgs[0].Data)
	}
}

func TestMaxBatchSizeFlushesImmediately(t *testing.T) {
	b, rec, _ := newTestBatcher(Config{MaxBatchSize: 3})

	_ = b.Queue("t", "a", 1)
	_ = b.Queue("t", "b", 2)
	if len(rec.all()) != 0 {
		t.Fatal("flushed before reaching max size")
	}
	_ = b.Queue("t", "c", 3)

	got := rec.all()
	if len(got) != 1 || got[0].target != protocol.BatchTarget {
		t.Fatalf("sent %+v, want one batch", got)
	}
	if got[0].data.(map[string]any)["count"] != 3 {
		t.Errorf("count = %v, want 3", got[0].data.(map[string]any)["count"])
	}
	if b.Pending() != 0 {
		t.Error("pending not cleared")
	}
}

func TestDisableCoalescing(t *testing.T) {
	b, rec, _ := newTestBatcher(Config{DisableCoalescing: true})
	for i := 0; i < 3; i++ {
		_ = b.Queue("t", "m", i)
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, err := Unpack(rec.all()[0].data.(map[string]any))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("unpacked %d messages, want 3", len(msgs))
	}
}

func TestCoalesceKey(t *testing.T) {
	b, _, _ := newTestBatcher(Config{})
	_ = b.QueueMessage(Message{Target: "a", Method: "m", CoalesceKey: "shared", Data: 1})
	_ = b.QueueMessage(Message{Target: "b", Method: "n", CoalesceKey: "shared", Data: 2})
	if b.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", b.Pending())
	}
}

func TestFlushFailureDropsBatch(t *testing.T) {
	b, rec, fc := newTestBatcher(Config{})
	rec.err = errors.New("channel closed")

	_ = b.Queue("a", "m", 1)
	_ = b.Queue("b", "m", 2)
	fc.Advance(DefaultFlushInterval)

	if b.Pending() != 0 {
		t.Error("failed batch should not be requeued")
	}
	s := b.Stats()
	if s.FailedSends != 1 || s.Dropped != 2 {
		t.Errorf("Stats() = %+v, want FailedSends=1 Dropped=2", s)
	}
}

func TestCloseCancelsTimer(t *testing.T) {
	b, rec, fc := newTestBatcher(Config{})
	_ = b.Queue("a", "m", 1)

	if n := b.Close(); n != 1 {
		t.Errorf("Close() = %d, want 1", n)
	}
	if fc.Pending() != 0 {
		t.Error("flush timer still armed after Close")
	}
	fc.Advance(time.Second)
	if len(rec.all()) != 0 {
		t.Error("sent after Close")
	}
	if err := b.Queue("a", "m", 2); !errors.Is(err, ErrClosed) {
		t.Errorf("Queue after Close err = %v, want ErrClosed", err)
	}
}

func TestUnpackErrors(t *testing.T) {
	tests := []map[string]any{
		{},
		{"messages": "nope"},
		{"messages": []any{42}},
		{"messages": []any{map[string]any{"target": "t"}}},
	}
	for i, env := range tests {
		if _, err := Unpack(env); err == nil {
			t.Errorf("case %d: Unpack() should fail", i)
		}
	}
}
