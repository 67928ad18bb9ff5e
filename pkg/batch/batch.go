// Package batch coalesces high-frequency outbound messages and flushes them
// on a frame-rate timer or when a size threshold is reached.
//
// A flush of one pending message sends it directly. A flush of two or more
// sends a single envelope addressed to protocol.BatchTarget whose "messages"
// list preserves enqueue order; receivers unpack it with Unpack.
//
// Flush failures are logged and the batch is dropped: Queue has already
// returned by the time a timer flush runs, so there is no caller left to
// receive the error.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// Defaults.
const (
	DefaultFlushInterval = 16 * time.Millisecond
	DefaultMaxBatchSize  = 50
)

// ErrClosed is returned by Queue after Close.
var ErrClosed = errors.New("batch: batcher closed")

// SendFunc delivers one message. Data is a string, a map[string]any, or, for
// batch envelopes, the envelope map.
type SendFunc func(ctx context.Context, target, method string, data any) error

// Config configures a Batcher.
type Config struct {
	// FlushInterval is the delay between the first queued message and the
	// timer flush.
	FlushInterval time.Duration

	// MaxBatchSize triggers an immediate flush when reached.
	MaxBatchSize int

	// DisableCoalescing appends every message instead of replacing a
	// pending message with the same key.
	DisableCoalescing bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the batcher defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: DefaultFlushInterval,
		MaxBatchSize:  DefaultMaxBatchSize,
	}
}

// Message is one pending outbound message.
type Message struct {
	Target      string
	Method      string
	Data        any
	Timestamp   time.Time
	CoalesceKey string
}

func (m Message) key() string {
	if m.CoalesceKey != "" {
		return m.CoalesceKey
	}
	return m.Target + ":" + m.Method
}

// Stats counts batcher activity.
type Stats struct {
	Queued       int64
	Coalesced    int64
	Flushes      int64
	DirectSends  int64
	BatchSends   int64
	MessagesSent int64
	FailedSends  int64
	Dropped      int64
}

// Batcher accumulates messages between flushes. It is safe for concurrent
// use; flushes of one Batcher never overlap.
type Batcher struct {
	cfg    Config
	send   SendFunc
	clock  clock.Clock
	logger *slog.Logger

	flushMu sync.Mutex

	mu      sync.Mutex
	pending []Message
	index   map[string]int
	timer   clock.Timer
	closed  bool
	stats   Stats
}

// New creates a batcher that delivers through send, filling zero config
// fields with defaults.
func New(cfg Config, send SendFunc) *Batcher {
	def := DefaultConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		cfg:    cfg,
		send:   send,
		clock:  clock.OrReal(cfg.Clock),
		logger: logger.With("component", "batcher"),
		index:  make(map[string]int),
	}
}

// Queue adds a message keyed by target and method.
func (b *Batcher) Queue(target, method string, data any) error {
	return b.QueueMessage(Message{Target: target, Method: method, Data: data})
}

// QueueMessage adds a message. With coalescing enabled, a pending message
// with the same key is replaced in place and counted as coalesced.
func (b *Batcher) QueueMessage(m Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = b.clock.Now()
	}
	b.stats.Queued++

	k := m.key()
	if i, ok := b.index[k]; ok && !b.cfg.DisableCoalescing {
		b.pending[i] = m
		b.stats.Coalesced++
		b.mu.Unlock()
		return nil
	}
	if !b.cfg.DisableCoalescing {
		b.index[k] = len(b.pending)
	}
	b.pending = append(b.pending, m)

	full := len(b.pending) >= b.cfg.MaxBatchSize
	if !full && b.timer == nil {
		b.timer = b.clock.AfterFunc(b.cfg.FlushInterval, b.onTimer)
	}
	b.mu.Unlock()

	if full {
		b.flush(context.Background())
	}
	return nil
}

func (b *Batcher) onTimer() {
	b.flush(context.Background())
}

// Flush sends everything pending now and returns the send error, if any.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.flush(ctx)
}

func (b *Batcher) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	msgs := b.pending
	b.pending = nil
	clear(b.index)
	if len(msgs) > 0 {
		b.stats.Flushes++
	}
	b.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}

	var err error
	if len(msgs) == 1 {
		m := msgs[0]
		err = b.send(ctx, m.Target, m.Method, m.Data)
	} else {
		err = b.send(ctx, protocol.BatchTarget, protocol.BatchMethod, Envelope(msgs))
	}

	b.mu.Lock()
	if err != nil {
		b.stats.FailedSends++
		b.stats.Dropped += int64(len(msgs))
	} else {
		if len(msgs) == 1 {
			b.stats.DirectSends++
		} else {
			b.stats.BatchSends++
		}
		b.stats.MessagesSent += int64(len(msgs))
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("batch flush failed, dropping messages", "count", len(msgs), "error", err)
		return err
	}
	b.logger.Debug("batch flushed", "count", len(msgs))
	return nil
}

// Pending returns the number of queued messages.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Close stops the flush timer and discards pending messages, returning how
// many were discarded. Queue fails with ErrClosed afterwards.
func (b *Batcher) Close() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	n := len(b.pending)
	b.pending = nil
	clear(b.index)
	b.stats.Dropped += int64(n)
	return n
}

// Envelope builds the batch envelope for msgs, preserving their order.
func Envelope(msgs []Message) map[string]any {
	list := make([]any, len(msgs))
	for i, m := range msgs {
		list[i] = map[string]any{
			"target":    m.Target,
			"method":    m.Method,
			"data":      m.Data,
			"timestamp": m.Timestamp.UnixMilli(),
		}
	}
	return map[string]any{
		"messages": list,
		"count":    len(msgs),
	}
}

// Unpack decodes a batch envelope into its messages, in order.
func Unpack(envelope map[string]any) ([]Message, error) {
	raw, ok := envelope["messages"]
	if !ok {
		return nil, fmt.Errorf("batch: envelope without messages")
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case []map[string]any:
		list = make([]any, len(v))
		for i := range v {
			list[i] = v[i]
		}
	default:
		return nil, fmt.Errorf("batch: messages has type %T", raw)
	}

	out := make([]Message, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("batch: message %d has type %T", i, item)
		}
		target, _ := m["target"].(string)
		method, _ := m["method"].(string)
		if target == "" || method == "" {
			return nil, fmt.Errorf("batch: message %d lacks target or method", i)
		}
		msg := Message{Target: target, Method: method, Data: m["data"]}
		switch ts := m["timestamp"].(type) {
		case int64:
			msg.Timestamp = time.UnixMilli(ts)
		case float64:
			msg.Timestamp = time.UnixMilli(int64(ts))
		}
		out = append(out, msg)
	}
	return out, nil
}
