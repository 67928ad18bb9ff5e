// Package throttle enforces a maximum send rate per (target, method) key.
//
// A key configured at hz messages per second allows one send every 1/hz.
// Sends inside that interval are handled by the key's Strategy. Pending
// values are flushed by a background tick (60Hz by default) that runs
// while any key holds a pending value.
package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
)

// DefaultTickInterval is the pending-flush tick, one frame at 60Hz.
const DefaultTickInterval = time.Second / 60

// Strategy decides what happens to a send that arrives inside the interval.
type Strategy int

const (
	// KeepLatest overwrites the pending slot with the newest value.
	KeepLatest Strategy = iota
	// Drop discards the value.
	Drop
	// KeepFirst keeps the first pending value and ignores later ones until
	// the slot is flushed.
	KeepFirst
	// Queue currently behaves exactly like KeepLatest: one replaceable
	// pending slot, not a FIFO.
	Queue
)

// String returns the strategy name used in config files.
func (s Strategy) String() string {
	switch s {
	case KeepLatest:
		return "keepLatest"
	case Drop:
		return "drop"
	case KeepFirst:
		return "keepFirst"
	case Queue:
		return "queue"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "keepLatest", "":
		return KeepLatest, nil
	case "drop":
		return Drop, nil
	case "keepFirst":
		return KeepFirst, nil
	case "queue":
		return Queue, nil
	}
	return 0, fmt.Errorf("throttle: unknown strategy %q", s)
}

// SendFunc delivers one message.
type SendFunc func(ctx context.Context, target, method string, data any) error

// Config configures a Throttler.
type Config struct {
	TickInterval time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// DefaultConfig returns the throttler defaults.
func DefaultConfig() Config {
	return Config{TickInterval: DefaultTickInterval}
}

// Result reports what Send did with a value.
type Result int

const (
	Sent Result = iota
	Pending
	Dropped
)

// Stats counts throttler activity.
type Stats struct {
	Sent        int64
	Dropped     int64
	Replaced    int64
	Ignored     int64
	TickFlushes int64
	Failed      int64
}

type pendingValue struct {
	target, method string
	data           any
}

type keyState struct {
	interval time.Duration
	strategy Strategy
	lastSent time.Time
	hasSent  bool
	pending  *pendingValue
}

// Throttler rate-limits sends per key. It is safe for concurrent use.
type Throttler struct {
	cfg    Config
	send   SendFunc
	clock  clock.Clock
	logger *slog.Logger

	// sendMu serializes deliveries so a tick flush never overlaps a direct
	// send. Lock order is sendMu then mu.
	sendMu sync.Mutex

	mu     sync.Mutex
	keys   map[string]*keyState
	timer  clock.Timer
	closed bool
	stats  Stats
}

// New creates a throttler that delivers through send.
func New(cfg Config, send SendFunc) *Throttler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttler{
		cfg:    cfg,
		send:   send,
		clock:  clock.OrReal(cfg.Clock),
		logger: logger.With("component", "throttler"),
		keys:   make(map[string]*keyState),
	}
}

// Key returns the throttle key of a target and method.
func Key(target, method string) string {
	return target + ":" + method
}

// SetRate limits target.method to hz sends per second. A non-positive hz
// removes the limit and discards any pending value.
func (t *Throttler) SetRate(target, method string, hz float64, strategy Strategy) {
	k := Key(target, method)
	t.mu.Lock()
	defer t.mu.Unlock()
	if hz <= 0 {
		delete(t.keys, k)
		return
	}
	interval := time.Duration(float64(time.Second) / hz)
	if st, ok := t.keys[k]; ok {
		st.interval = interval
		st.strategy = strategy
		return
	}
	t.keys[k] = &keyState{interval: interval, strategy: strategy}
}

// Send delivers data now if the key's interval has elapsed, and otherwise
// applies the key's strategy. Unthrottled keys always send immediately.
// Only immediate sends can return an error.
func (t *Throttler) Send(ctx context.Context, target, method string, data any) (Result, error) {
	k := Key(target, method)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Dropped, nil
	}
	st, ok := t.keys[k]
	if !ok {
		t.mu.Unlock()
		return t.deliver(ctx, target, method, data)
	}

	now := t.clock.Now()
	if !st.hasSent || now.Sub(st.lastSent) >= st.interval {
		var first *pendingValue
		if st.pending != nil {
			if st.strategy == KeepFirst {
				first = st.pending
			} else {
				t.stats.Replaced++
			}
			st.pending = nil
		}
		st.lastSent = now
		st.hasSent = true
		if first != nil {
			st.pending = &pendingValue{target, method, data}
			t.armLocked()
			t.mu.Unlock()
			return t.deliverPending(ctx, first)
		}
		t.mu.Unlock()
		return t.deliver(ctx, target, method, data)
	}

	var res Result
	switch st.strategy {
	case Drop:
		t.stats.Dropped++
		res = Dropped
	case KeepFirst:
		if st.pending != nil {
			t.stats.Ignored++
			res = Dropped
		} else {
			st.pending = &pendingValue{target, method, data}
			res = Pending
		}
	default:
		if st.pending != nil {
			t.stats.Replaced++
		}
		st.pending = &pendingValue{target, method, data}
		res = Pending
	}
	if res == Pending {
		t.armLocked()
	}
	t.mu.Unlock()
	return res, nil
}

// deliverPending sends a KeepFirst value that was displaced by a fresh send;
// the fresh value takes the pending slot.
func (t *Throttler) deliverPending(ctx context.Context, p *pendingValue) (Result, error) {
	if _, err := t.deliver(ctx, p.target, p.method, p.data); err != nil {
		return Pending, err
	}
	return Pending, nil
}

func (t *Throttler) deliver(ctx context.Context, target, method string, data any) (Result, error) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.deliverLocked(ctx, target, method, data)
}

func (t *Throttler) deliverLocked(ctx context.Context, target, method string, data any) (Result, error) {
	err := t.send(ctx, target, method, data)
	t.mu.Lock()
	if err != nil {
		t.stats.Failed++
	} else {
		t.stats.Sent++
	}
	t.mu.Unlock()
	if err != nil {
		return Dropped, err
	}
	return Sent, nil
}

func (t *Throttler) armLocked() {
	if t.timer == nil && !t.closed {
		t.timer = t.clock.AfterFunc(t.cfg.TickInterval, t.tick)
	}
}

// tick flushes every pending value whose interval has elapsed and re-arms
// once those sends are done, while values remain pending.
func (t *Throttler) tick() {
	t.mu.Lock()
	t.timer = nil
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	var due []*pendingValue
	remaining := false
	for _, st := range t.keys {
		if st.pending == nil {
			continue
		}
		if now.Sub(st.lastSent) >= st.interval {
			due = append(due, st.pending)
			st.pending = nil
			st.lastSent = now
			st.hasSent = true
			continue
		}
		remaining = true
	}
	t.stats.TickFlushes += int64(len(due))
	t.mu.Unlock()

	if len(due) > 0 {
		t.sendMu.Lock()
		for _, p := range due {
			if _, err := t.deliverLocked(context.Background(), p.target, p.method, p.data); err != nil {
				t.logger.Error("throttled send failed", "target", p.target, "method", p.method, "error", err)
			}
		}
		t.sendMu.Unlock()
	}

	if remaining {
		t.mu.Lock()
		t.armLocked()
		t.mu.Unlock()
	}
}

// Flush sends every pending value now, ignoring intervals.
func (t *Throttler) Flush(ctx context.Context) error {
	t.mu.Lock()
	var due []*pendingValue
	now := t.clock.Now()
	for _, st := range t.keys {
		if st.pending != nil {
			due = append(due, st.pending)
			st.pending = nil
			st.lastSent = now
			st.hasSent = true
		}
	}
	t.mu.Unlock()

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	var firstErr error
	for _, p := range due {
		if _, err := t.deliverLocked(ctx, p.target, p.method, p.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PendingCount returns the number of keys holding a pending value.
func (t *Throttler) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.keys {
		if st.pending != nil {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Close cancels the tick and discards pending values.
func (t *Throttler) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	for _, st := range t.keys {
		st.pending = nil
	}
}
