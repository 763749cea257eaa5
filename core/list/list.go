// File: core/list/list.go
// Package list implements the intrusive queue of spec.md §4 component B.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Used for the overflow completion FIFO (§4.3), the retry/unexpected/
// expected-op engine queues (§4.11), and the accepted/poll-addr queues
// (§4.9). The engine's hot path is the lock-free ring in core/queue, not
// this structure (Design Notes §9): a short-critical-section sync.Mutex
// guarding the teacher's own eapache/queue dependency is sufficient here.

package list

import (
	"sync"

	"github.com/eapache/queue"
)

// List is a mutex-guarded FIFO of T, backed by eapache/queue's ring buffer.
type List[T any] struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New creates an empty list.
func New[T any]() *List[T] {
	return &List[T]{q: queue.New()}
}

// PushBack appends v to the tail.
func (l *List[T]) PushBack(v T) {
	l.mu.Lock()
	l.q.Add(v)
	l.mu.Unlock()
}

// PopFront removes and returns the head item; ok is false if empty.
func (l *List[T]) PopFront() (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.q.Length() == 0 {
		return v, false
	}
	return l.q.Remove().(T), true
}

// Len returns the current length.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}

// RemoveMatch scans for the first item for which match returns true, removes
// it and returns it. Used by Cancel to pull a still-queued op out of its
// owning engine queue (spec.md §4.3 Cancellation). O(n) in queue length,
// which is acceptable: these queues hold in-flight operations, not the hot
// per-message ring.
func (l *List[T]) RemoveMatch(match func(T) bool) (v T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.q.Length()
	for i := 0; i < n; i++ {
		item := l.q.Remove().(T)
		if !ok && match(item) {
			v, ok = item, true
			continue
		}
		l.q.Add(item)
	}
	return v, ok
}
