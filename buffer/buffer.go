// Package buffer provides the bounded, thread-safe ring buffer that backs
// port connectors.
//
// The default overflow policy overwrites the oldest element so a fast
// producer is never blocked by a slow consumer: after M writes into a buffer
// of capacity N (M > N) with no reads, the buffer holds exactly the N most
// recent values.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// OverwriteOldest drops the oldest element to make room for the new one.
	OverwriteOldest OverflowPolicy = iota
	// DropNewest discards the element being written.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case OverwriteOldest:
		return "overwrite_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a property value to a policy. Unknown values yield OverwriteOldest.
func ParsePolicy(s string) OverflowPolicy {
	if s == DropNewest.String() {
		return DropNewest
	}
	return OverwriteOldest
}

// DropCallback is called, outside the buffer lock, with every element lost to overflow.
type DropCallback[T any] func(item T)

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithPolicy sets the overflow policy. Defaults to OverwriteOldest.
func WithPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) {
		r.policy = p
	}
}

// WithDropCallback registers a callback for elements lost to overflow.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(r *Ring[T]) {
		r.onDrop = cb
	}
}

// WithOverflowCounter increments c once per element lost to overflow.
// A nil counter is ignored.
func WithOverflowCounter[T any](c prometheus.Counter) Option[T] {
	return func(r *Ring[T]) {
		if c != nil {
			r.overflows = c
		}
	}
}

// Stats holds monotonic buffer counters.
type Stats struct {
	Writes    uint64
	Reads     uint64
	Overflows uint64
}

// Ring is a fixed-capacity FIFO ring buffer.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // next read position
	size     int
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	notEmpty chan struct{}

	overflows prometheus.Counter

	writes    atomic.Uint64
	reads     atomic.Uint64
	overflown atomic.Uint64
}

// New creates a ring of the given capacity. Capacities below one are raised to one.
func New[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		policy:   OverwriteOldest,
		notEmpty: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Write appends item, applying the overflow policy when the ring is full.
// It reports whether an element was lost.
func (r *Ring[T]) Write(item T) (dropped bool) {
	r.mu.Lock()
	var lost T
	if r.size == len(r.items) {
		dropped = true
		if r.policy == DropNewest {
			lost = item
			r.mu.Unlock()
			r.recordDrop(lost)
			return true
		}
		lost = r.items[r.tail]
		r.tail = (r.tail + 1) % len(r.items)
		r.size--
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.writes.Add(1)
	r.mu.Unlock()

	select {
	case r.notEmpty <- struct{}{}:
	default:
	}
	if dropped {
		r.recordDrop(lost)
	}
	return dropped
}

func (r *Ring[T]) recordDrop(item T) {
	r.overflown.Add(1)
	if r.overflows != nil {
		r.overflows.Inc()
	}
	if r.onDrop != nil {
		r.onDrop(item)
	}
}

// Read removes and returns the oldest element.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	r.reads.Add(1)
	return item, true
}

// Snapshot returns the buffered elements, oldest first, without removing them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.items[(r.tail+i)%len(r.items)]
	}
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear removes every element without reporting drops.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}

// NotEmpty returns a channel that receives a value after writes. It is a
// wake-up hint; the reader must still call Read in a loop.
func (r *Ring[T]) NotEmpty() <-chan struct{} {
	return r.notEmpty
}

// Stats returns a copy of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Writes:    r.writes.Load(),
		Reads:     r.reads.Load(),
		Overflows: r.overflown.Load(),
	}
}
