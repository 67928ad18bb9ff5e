// Package clock abstracts wall-clock time so that retry loops, batch flushes
// and throttle ticks can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used by timer-driven components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Sleep pauses for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
