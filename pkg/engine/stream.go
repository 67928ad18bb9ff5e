package engine

import (
	"sync"
	"sync/atomic"
)

// Stream is a broadcast stream. Every subscriber receives each value
// published after it subscribed; nothing is replayed. A subscriber whose
// buffer is full misses the value rather than blocking the publisher.
type Stream[T any] struct {
	buffer int

	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool

	dropped atomic.Int64
}

func newStream[T any](buffer int) *Stream[T] {
	return &Stream[T]{buffer: buffer, subs: make(map[int]chan T)}
}

// Subscribe returns a channel of future values and a cancel func. The
// channel is closed by cancel or when the stream closes. Subscribing to a
// closed stream returns a closed channel.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, s.buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (s *Stream[T]) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Stream[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Stream[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
