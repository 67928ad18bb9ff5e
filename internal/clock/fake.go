package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Timers registered with AfterFunc fire synchronously inside Advance, in
// deadline order. When AutoAdvance is set, Sleep moves the clock forward by
// the requested duration and returns immediately, which lets retry loops run
// to completion while still recording the delays they asked for.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	seq     int

	autoAdvance bool
	slept       []time.Duration
	changed     chan struct{}
}

type fakeWaiter struct {
	deadline time.Time
	seq      int
	fn       func()
	ch       chan struct{}
	stopped  bool
}

// NewFake returns a fake clock positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, changed: make(chan struct{})}
}

// SetAutoAdvance toggles auto-advancing Sleep.
func (f *Fake) SetAutoAdvance(on bool) {
	f.mu.Lock()
	f.autoAdvance = on
	f.mu.Unlock()
}

// Slept returns every duration passed to Sleep so far.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc implements Clock.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.addLocked(d, fn, nil)
	return &fakeTimer{f: f, w: w}
}

// Sleep implements Clock.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.slept = append(f.slept, d)
	if f.autoAdvance {
		f.mu.Unlock()
		f.Advance(d)
		return ctx.Err()
	}
	ch := make(chan struct{})
	w := f.addLocked(d, nil, ch)
	f.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		w.stopped = true
		f.removeLocked(w)
		f.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		w := f.nextDueLocked(target)
		if w == nil {
			break
		}
		f.now = w.deadline
		f.removeLocked(w)
		switch {
		case w.ch != nil:
			close(w.ch)
		case w.fn != nil:
			fn := w.fn
			f.mu.Unlock()
			fn()
			f.mu.Lock()
		}
	}
	f.now = target
	f.mu.Unlock()
}

// Pending returns the number of live timers and sleepers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// BlockUntil waits until at least n timers or sleepers are pending.
func (f *Fake) BlockUntil(n int) {
	for {
		f.mu.Lock()
		count := 0
		for _, w := range f.waiters {
			if !w.stopped {
				count++
			}
		}
		ch := f.changed
		f.mu.Unlock()
		if count >= n {
			return
		}
		<-ch
	}
}

func (f *Fake) addLocked(d time.Duration, fn func(), ch chan struct{}) *fakeWaiter {
	f.seq++
	w := &fakeWaiter{deadline: f.now.Add(d), seq: f.seq, fn: fn, ch: ch}
	f.waiters = append(f.waiters, w)
	sort.SliceStable(f.waiters, func(i, j int) bool {
		if f.waiters[i].deadline.Equal(f.waiters[j].deadline) {
			return f.waiters[i].seq < f.waiters[j].seq
		}
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
	close(f.changed)
	f.changed = make(chan struct{})
	return w
}

func (f *Fake) nextDueLocked(target time.Time) *fakeWaiter {
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			return w
		}
		return nil
	}
	return nil
}

func (f *Fake) removeLocked(w *fakeWaiter) {
	for i, cur := range f.waiters {
		if cur == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

type fakeTimer struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.w.stopped {
		return false
	}
	for _, w := range t.f.waiters {
		if w == t.w {
			t.w.stopped = true
			t.f.removeLocked(t.w)
			return true
		}
	}
	return false
}
