package engine

import (
	"log/slog"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/channel"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/retry"
	"github.com/vango-dev/enginebridge/pkg/throttle"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// Defaults.
const (
	DefaultQueueCapacity   = 100
	DefaultStreamBuffer    = 64
	DefaultEventSetupDelay = 100 * time.Millisecond
)

// Config configures a Controller.
type Config struct {
	// EngineType names the embedded runtime. It gates engine-specific
	// commands and tags errors and log lines.
	EngineType protocol.EngineType

	// ViewID tags log lines. The channel is already scoped to the view.
	ViewID int64

	// CreateOptions are passed with engine#create.
	CreateOptions map[string]any

	// QueueCapacity bounds the pre-ready queue. The oldest entry is evicted
	// when it is full.
	QueueCapacity int

	// CreateRetry governs the create handshake.
	CreateRetry retry.Policy

	// EventRetry governs event stream setup. Its InitialDelay is waited
	// once before the first attempt.
	EventRetry retry.Policy

	// StreamBuffer is the per-subscriber channel capacity of the
	// broadcast streams. Events for a full subscriber are dropped.
	StreamBuffer int

	Binary   transfer.Config
	Batch    batch.Config
	Throttle throttle.Config
	Delta    delta.Config

	// Middleware wraps the command channel, outermost first.
	Middleware []channel.Middleware

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	events := retry.DefaultPolicy()
	events.InitialDelay = DefaultEventSetupDelay
	return Config{
		EngineType:    protocol.EngineUnity,
		QueueCapacity: DefaultQueueCapacity,
		CreateRetry:   retry.DefaultPolicy(),
		EventRetry:    events,
		StreamBuffer:  DefaultStreamBuffer,
		Binary:        transfer.DefaultConfig(),
		Batch:         batch.DefaultConfig(),
		Throttle:      throttle.DefaultConfig(),
		Delta:         delta.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.EngineType == "" {
		c.EngineType = def.EngineType
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.CreateRetry.MaxAttempts <= 0 && c.CreateRetry.BaseDelay <= 0 {
		c.CreateRetry = def.CreateRetry
	}
	if c.EventRetry.MaxAttempts <= 0 && c.EventRetry.BaseDelay <= 0 && c.EventRetry.InitialDelay <= 0 {
		c.EventRetry = def.EventRetry
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = def.StreamBuffer
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
