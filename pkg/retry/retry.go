// Package retry runs an operation under a bounded exponential backoff,
// retrying only on errors the caller classifies as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
)

// Defaults.
const (
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxAttempts = 10
)

// Policy maps an attempt number to the delay before the next attempt.
type Policy struct {
	// BaseDelay is the delay after the first failed attempt. Each further
	// failure doubles it.
	BaseDelay time.Duration

	// MaxAttempts bounds the number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is waited once before the first attempt.
	InitialDelay time.Duration
}

// DefaultPolicy returns 10 attempts at 50ms·2^attempt.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// Delay returns the wait after the given zero-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	return p.BaseDelay << uint(attempt)
}

// Budget returns the total backoff spent if every attempt fails.
func (p Policy) Budget() time.Duration {
	p = p.normalized()
	total := p.InitialDelay
	for i := 0; i < p.MaxAttempts-1; i++ {
		total += p.Delay(i)
	}
	return total
}

// ErrExhausted is matched by the error Do returns once every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError reports the attempts made and the last transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Runner executes operations under a policy.
type Runner struct {
	Policy Policy
	Clock  clock.Clock

	// Retryable classifies errors. Errors it rejects end the loop at once.
	Retryable func(error) bool

	Logger *slog.Logger
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// policy's attempts run out. attempt passed to op is zero-based. It returns
// an *ExhaustedError when attempts run out, op's error when it is not
// retryable, and ctx.Err() when the context ends while waiting.
func (r Runner) Do(ctx context.Context, name string, op func(ctx context.Context, attempt int) error) error {
	p := r.Policy.normalized()
	clk := clock.OrReal(r.Clock)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if p.InitialDelay > 0 {
		if err := clk.Sleep(ctx, p.InitialDelay); err != nil {
			return err
		}
	}

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				logger.Debug("retry succeeded", "op", name, "attempt", attempt+1)
			}
			return nil
		}
		if r.Retryable == nil || !r.Retryable(err) {
			return err
		}
		last = err
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn("retrying", "op", name, "attempt", attempt+1, "delay", delay, "error", err)
		if err := clk.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}
