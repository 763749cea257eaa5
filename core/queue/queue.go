// File: core/queue/queue.go
// Package queue implements the atomic bounded queue of spec.md §4 component A.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on the teacher's core/concurrency/ring.go: a Vyukov-style MPMC
// bounded ring with per-cell sequence numbers, padded head/tail to avoid
// false sharing. Generalized here to back both the in-process fast
// completion queue (core/completion) and, by storing raw uint64 headers, the
// shared-memory ring buffer of spec.md §4.5 (see sm/shmring.go, which reuses
// the same CAS discipline against a byte-addressed mapping instead of a Go
// slice).

package queue

import "sync/atomic"

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
	_        [cacheLinePad]byte
}

// Bounded is a lock-free, power-of-two-capacity SPMC/MPMC queue of T.
type Bounded[T any] struct {
	head uint64
	_    [cacheLinePad]byte
	tail uint64
	_    [cacheLinePad]byte
	mask uint64
	cells []cell[T]
}

// NewBounded allocates a queue whose capacity is capacity rounded up to the
// next power of two (minimum 2).
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &Bounded[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Push enqueues val; returns false if the queue is full.
func (q *Bounded[T]) Push(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		idx := tail & q.mask
		c := &q.cells[idx]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(tail)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			// tail moved by another producer, retry
		}
	}
}

// Pop dequeues the oldest item; ok is false if the queue is empty.
func (q *Bounded[T]) Pop() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&q.head)
		idx := head & q.mask
		c := &q.cells[idx]
		seq := c.sequence.Load()
		dif := int64(seq) - int64(head+1)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			var zero T
			return zero, false
		default:
			// head moved by another consumer, retry
		}
	}
}

// Len returns an approximate (momentarily stale) count of queued items.
func (q *Bounded[T]) Len() int {
	return int(atomic.LoadUint64(&q.tail) - atomic.LoadUint64(&q.head))
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return len(q.cells)
}
