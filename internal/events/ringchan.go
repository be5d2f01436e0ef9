package events

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics.
//
// Producers never block indefinitely: if the buffer is full, the oldest
// element is discarded. This is what makes push delivery fire-and-forget:
// a slow consumer loses old events instead of stalling the publisher, and
// the mirror's reconciliation poll recovers whatever was dropped.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Consumers can range over this until it's closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend always succeeds immediately, discarding the oldest element if
// needed. It never blocks. Reports whether an element was dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	select {
	case rc.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch: // drop oldest
		rc.dropped.Add(1)
		dropped = true
	default:
	}
	rc.ch <- v
	return dropped
}

// TryReceive attempts a non-blocking receive.
// Returns (zero, false) if no value is ready.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Dropped returns how many elements have been overwritten so far.
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Close closes the underlying channel. After this, ForceSend panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
