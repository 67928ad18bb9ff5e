package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vango-dev/enginebridge/internal/clock"
)

var errNotYet = errors.New("not registered")

func testRunner(fc *clock.Fake) Runner {
	return Runner{
		Clock:     fc,
		Retryable: func(err error) bool { return errors.Is(err, errNotYet) },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func sum(d []time.Duration) time.Duration {
	var total time.Duration
	for _, v := range d {
		total += v
	}
	return total
}

func TestDelay(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{50, 100, 200, 400, 800}
	for i, w := range want {
		if got := p.Delay(i); got != w*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w*time.Millisecond)
		}
	}
	// 50ms * (2^9 - 1)
	if got := p.Budget(); got != 25550*time.Millisecond {
		t.Errorf("Budget() = %v", got)
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	for k := 0; k < DefaultMaxAttempts; k++ {
		fc := clock.NewFake(time.Unix(0, 0))
		fc.SetAutoAdvance(true)
		r := testRunner(fc)

		calls := 0
		err := r.Do(context.Background(), "create", func(context.Context, int) error {
			calls++
			if calls <= k {
				return errNotYet
			}
			return nil
		})
		if err != nil {
			t.Fatalf("k=%d: Do() error = %v", k, err)
		}
		if calls != k+1 {
			t.Errorf("k=%d: %d calls, want %d", k, calls, k+1)
		}
		var want time.Duration
		for i := 0; i < k; i++ {
			want += 50 * time.Millisecond << i
		}
		if got := sum(fc.Slept()); got != want {
			t.Errorf("k=%d: slept %v, want %v", k, got, want)
		}
		if got := fc.Now().Sub(time.Unix(0, 0)); got != want {
			t.Errorf("k=%d: elapsed %v, want %v", k, got, want)
		}
	}
}

func TestExhaustsAttempts(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	fc.SetAutoAdvance(true)
	r := testRunner(fc)

	calls := 0
	err := r.Do(context.Background(), "create", func(context.Context, int) error {
		calls++
		return errNotYet
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errNotYet) {
		t.Error("exhausted error should wrap the last failure")
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("%d calls, want %d", calls, DefaultMaxAttempts)
	}
	if len(fc.Slept()) != DefaultMaxAttempts-1 {
		t.Errorf("slept %d times, want %d", len(fc.Slept()), DefaultMaxAttempts-1)
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	fc.SetAutoAdvance(true)
	r := testRunner(fc)

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), "create", func(context.Context, int) error {
		calls++
		return boom
	})
	if err != boom || calls != 1 {
		t.Errorf("err = %v after %d calls, want boom after 1", err, calls)
	}
}

func TestInitialDelay(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	fc.SetAutoAdvance(true)
	r := testRunner(fc)
	r.Policy = Policy{InitialDelay: 100 * time.Millisecond}

	if err := r.Do(context.Background(), "events", func(context.Context, int) error { return nil }); err != nil {
		t.Fatal(err)
	}
	slept := fc.Slept()
	if len(slept) != 1 || slept[0] != 100*time.Millisecond {
		t.Errorf("slept %v, want [100ms]", slept)
	}
}

func TestContextCancelDuringBackoff(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r := testRunner(fc)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "create", func(context.Context, int) error { return errNotYet })
	}()
	fc.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
