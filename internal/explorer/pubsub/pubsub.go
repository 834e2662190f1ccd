// Package pubsub provides a value holder whose changes are published to subscribers.
//
// A new subscriber immediately receives the current value, if any. Each subscriber owns a channel
// with a single slot holding the latest value it has not read yet: publishing never blocks, and a
// slow subscriber only misses intermediate values.
package pubsub

import "sync"

// Subject holds the last published value of type T and fans it out to subscribers.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	has    bool
	subs   map[chan T]struct{}
	closed bool
}

// New returns a subject without a value.
func New[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[chan T]struct{})}
}

// NewWithValue returns a subject holding an initial value.
func NewWithValue[T any](v T) *Subject[T] {
	s := New[T]()
	s.value, s.has = v, true
	return s
}

// Publish stores v and sends it to every subscriber. Publishing on a closed subject is a no-op.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.value, s.has = v, true
	for ch := range s.subs {
		offer(ch, v)
	}
}

// offer replaces the pending value of ch with v.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Value returns the current value and whether one was published.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Subscribe returns a channel receiving the current value, if any, then every published value.
// The returned function unsubscribes and closes the channel. It is safe to call it more than once.
// Subscribing to a closed subject returns an already closed channel.
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	if s.has {
		ch <- s.value
	}
	s.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; !ok {
				return
			}
			delete(s.subs, ch)
			close(ch)
		})
	}
}

// Close closes every subscriber channel. Later publications are dropped.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
