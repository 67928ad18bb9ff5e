package delta

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// DefaultMinimumSavingsRatio is the fraction of the full size a delta must
// save before it is preferred over resending the full state.
const DefaultMinimumSavingsRatio = 0.2

// Config configures a Compressor.
type Config struct {
	MaxDepth            int
	MinimumSavingsRatio float64
	Logger              *slog.Logger
}

// DefaultConfig returns the compressor defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:            DefaultMaxDepth,
		MinimumSavingsRatio: DefaultMinimumSavingsRatio,
	}
}

// Result is the outcome of ComputeWithHistory.
type Result struct {
	// IsDelta is false when Payload is the full state.
	IsDelta bool

	Payload   map[string]any
	FullSize  int
	DeltaSize int
}

// Stats counts compressor decisions.
type Stats struct {
	FullSends  int64
	DeltaSends int64
	BytesSaved int64
}

// Compressor remembers the last state sent per key and decides, per call,
// whether a delta is worth sending. It is safe for concurrent use.
type Compressor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]map[string]any
	stats   Stats
}

// NewCompressor creates a compressor, filling zero config fields with
// defaults.
func NewCompressor(cfg Config) *Compressor {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MinimumSavingsRatio <= 0 || cfg.MinimumSavingsRatio >= 1 {
		cfg.MinimumSavingsRatio = def.MinimumSavingsRatio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		cfg:     cfg,
		logger:  logger.With("component", "delta"),
		history: make(map[string]map[string]any),
	}
}

// ComputeWithHistory diffs state against the last state recorded for key
// and records state as the new base. The full state is returned on first
// sight of key, or when the delta does not save at least
// MinimumSavingsRatio of the full encoded size.
func (c *Compressor) ComputeWithHistory(key string, state map[string]any) (Result, error) {
	full, err := json.Marshal(state)
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.history[key]
	c.history[key] = Clone(state)

	res := Result{Payload: state, FullSize: len(full), DeltaSize: len(full)}
	if !seen {
		c.stats.FullSends++
		return res, nil
	}

	d, err := Compute(state, prev, c.cfg.MaxDepth)
	if err != nil {
		c.history[key] = prev
		return Result{}, err
	}
	encoded, err := json.Marshal(d)
	if err != nil {
		c.history[key] = prev
		return Result{}, err
	}

	limit := float64(len(full)) * (1 - c.cfg.MinimumSavingsRatio)
	if float64(len(encoded)) > limit {
		c.stats.FullSends++
		c.logger.Debug("delta not worthwhile", "key", key, "full", len(full), "delta", len(encoded))
		return res, nil
	}

	c.stats.DeltaSends++
	c.stats.BytesSaved += int64(len(full) - len(encoded))
	return Result{IsDelta: true, Payload: d, FullSize: len(full), DeltaSize: len(encoded)}, nil
}

// Reset forgets the history of key, forcing the next send to be full.
func (c *Compressor) Reset(key string) {
	c.mu.Lock()
	delete(c.history, key)
	c.mu.Unlock()
}

// Clear forgets all history.
func (c *Compressor) Clear() {
	c.mu.Lock()
	clear(c.history)
	c.mu.Unlock()
}

// Stats returns a snapshot of the decision counters.
func (c *Compressor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Tracker is the receiving side of ComputeWithHistory: it rebuilds full
// state per key from full and delta payloads.
type Tracker struct {
	maxDepth int

	mu    sync.Mutex
	state map[string]map[string]any
}

// NewTracker creates a tracker using the given depth limit, which must match
// the sender's.
func NewTracker(maxDepth int) *Tracker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Tracker{maxDepth: maxDepth, state: make(map[string]map[string]any)}
}

// Apply folds a received payload into the state of key and returns the
// reconstructed full state.
func (t *Tracker) Apply(key string, payload map[string]any, isDelta bool) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !isDelta {
		t.state[key] = Clone(payload)
		return Clone(payload), nil
	}
	base, ok := t.state[key]
	if !ok {
		base = map[string]any{}
	}
	next, err := Apply(base, payload, t.maxDepth)
	if err != nil {
		return nil, err
	}
	t.state[key] = next
	return Clone(next), nil
}

// Clone deep-copies nested maps and slices of m.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Keys of the wire wrapper produced by Result.Wrap.
const (
	FlagKey  = "_delta"
	StateKey = "state"
)

// Wrap returns the payload in the form sent over the channel:
// {"_delta": bool, "state": payload}.
func (r Result) Wrap() map[string]any {
	return map[string]any{FlagKey: r.IsDelta, StateKey: r.Payload}
}

// Unwrap recognizes a map produced by Result.Wrap. ok is false for any other
// message.
func Unwrap(m map[string]any) (payload map[string]any, isDelta, ok bool) {
	flag, ok := m[FlagKey].(bool)
	if !ok {
		return nil, false, false
	}
	payload, ok = m[StateKey].(map[string]any)
	if !ok {
		return nil, false, false
	}
	return payload, flag, true
}
