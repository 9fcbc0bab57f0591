// Package ringbuf keeps the most recent values of a stream in a fixed-size
// circular buffer. The oldest value is overwritten when the buffer is full.
package ringbuf

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity circular buffer. Safe for concurrent writers and
// readers.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	pos  int // next write position
	full bool

	// Values overwritten before being read out (atomic, for metrics).
	evicted atomic.Uint64
}

// New creates a ring with the given capacity (default 100).
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, overwriting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		r.evicted.Add(1)
	}
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

// Snapshot returns every held value, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(0)
}

// Last returns up to n of the newest values, oldest first. n <= 0 returns all.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]T, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, r.buf[r.index(i)])
	}
	return out
}

// Len returns the number of values currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns how many values were overwritten.
func (r *Ring[T]) Evicted() uint64 { return r.evicted.Load() }

func (r *Ring[T]) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *Ring[T]) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}
