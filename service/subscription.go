package service

import "sync"

// Subscription is a cancellable stream of snapshots. The producer conflates:
// a consumer that falls behind sees only the latest snapshot, which is safe
// because every snapshot carries the full state.
//
// The consumer reads C until it closes. Unsubscribe is idempotent; after it
// returns the producer stops delivering and closes C.
type Subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
	stop func()

	pmu    sync.Mutex
	closed bool
}

// NewSubscription builds a subscription whose producer side is driven by the
// caller. stop, if non-nil, runs once on Unsubscribe to tear down upstream
// resources.
func NewSubscription[T any](stop func()) *Subscription[T] {
	return &Subscription[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
		stop: stop,
	}
}

func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

// Cancelled is observed by the producer to end its delivery loop.
func (s *Subscription[T]) Cancelled() <-chan struct{} {
	return s.done
}

// Publish delivers a snapshot, replacing any undelivered one. A publish
// after Unsubscribe or Close is a no-op.
func (s *Subscription[T]) Publish(v T) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		// Drop the stale buffered snapshot and retry.
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close ends delivery, called by the producer after it observes Cancelled
// or its upstream ends. Any undelivered snapshot is discarded first so
// nothing arrives after teardown. Idempotent.
func (s *Subscription[T]) Close() {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
}
