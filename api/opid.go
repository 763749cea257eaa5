// File: api/opid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OpID is the recyclable operation handle described in spec.md §3/§4.13: a
// value-typed record carrying the sum-type payload of every operation kind
// (Design Notes §9), bound to a context at post time and reusable once
// COMPLETED with refcount 1. Status transitions are lock-free via atomics;
// the struct itself is shared-by-pointer across the engine, the queues it
// may be linked into, and the completion callback.

package api

import "sync/atomic"

// OpStatus is a bitset of status flags on an OpID (spec.md §3).
type OpStatus uint32

const (
	// StatusCompleted is set once the operation's completion has been
	// produced; an op-id may only be (re)posted while this bit is set.
	StatusCompleted OpStatus = 1 << iota
	// StatusCanceled may be set any time before StatusCompleted.
	StatusCanceled
	// StatusQueued reflects membership in exactly one engine queue.
	StatusQueued
)

// OpID is a reusable operation handle. Create with NewOpID; acquire with
// TryAcquire before every post; mark done with Complete once its completion
// is produced.
type OpID struct {
	status   atomic.Uint32
	refcount atomic.Int32

	Kind     Kind
	Ctx      Context
	Callback CompletionCallback

	// Addr is the bound peer for send/recv-expected/put/get; nil for
	// recv-unexpected until a message is matched.
	Addr Addr
	Tag  uint32
	Buf  []byte

	// Put/Get payload.
	Local      MemHandle
	LocalOff   uint64
	Remote     MemHandle
	RemoteOff  uint64
	Length     uint64
	PeerForRDMA Addr

	// OnCancel is set by the engine that accepted the post; Context.Cancel
	// invokes it after the CANCELED bit is set so the engine can remove the
	// op-id from its private queue and post a CANCELED completion
	// (spec.md §4.3 Cancellation).
	OnCancel func(*OpID)
}

// NewOpID allocates an op-id starting COMPLETED with refcount 1, per
// spec.md §4.13.
func NewOpID() *OpID {
	op := &OpID{}
	op.status.Store(uint32(StatusCompleted))
	op.refcount.Store(1)
	return op
}

// TryAcquire implements the reuse-check at post time (spec.md §4.13): the
// op-id must be COMPLETED, and refcount must CAS 1->2. Complete drops the
// refcount back to 1 before the completion reaches the trigger loop, so a
// successful CAS does not show that the previous release callback has run.
// Makes a single CAS attempt and does not spin; returns false (ErrBusy)
// otherwise.
func (op *OpID) TryAcquire() bool {
	if op.status.Load()&uint32(StatusCompleted) == 0 {
		return false
	}
	return op.refcount.CompareAndSwap(1, 2)
}

// BeginPost clears all status bits once TryAcquire has succeeded, marking
// the op-id as in flight.
func (op *OpID) BeginPost() {
	op.status.Store(0)
}

// MarkQueued sets StatusQueued (op-id enqueued on an engine queue).
func (op *OpID) MarkQueued() { op.setBit(StatusQueued) }

// ClearQueued clears StatusQueued (op-id removed from its engine queue).
func (op *OpID) ClearQueued() { op.clearBit(StatusQueued) }

// IsQueued reports whether StatusQueued is currently set.
func (op *OpID) IsQueued() bool { return op.hasBit(StatusQueued) }

// Cancel sets StatusCanceled atomically; a no-op if already completed
// (completion wins the race per spec.md §5).
func (op *OpID) Cancel() bool {
	for {
		cur := op.status.Load()
		if cur&uint32(StatusCompleted) != 0 {
			return false
		}
		if cur&uint32(StatusCanceled) != 0 {
			return true
		}
		if op.status.CompareAndSwap(cur, cur|uint32(StatusCanceled)) {
			return true
		}
	}
}

// IsCanceled reports whether StatusCanceled is set.
func (op *OpID) IsCanceled() bool { return op.hasBit(StatusCanceled) }

// Complete sets StatusCompleted (clearing StatusQueued) and releases one
// refcount, allowing a future TryAcquire to succeed.
func (op *OpID) Complete() {
	for {
		cur := op.status.Load()
		next := (cur &^ uint32(StatusQueued)) | uint32(StatusCompleted)
		if op.status.CompareAndSwap(cur, next) {
			break
		}
	}
	op.refcount.Add(-1)
}

func (op *OpID) setBit(b OpStatus) {
	for {
		cur := op.status.Load()
		if op.status.CompareAndSwap(cur, cur|uint32(b)) {
			return
		}
	}
}

func (op *OpID) clearBit(b OpStatus) {
	for {
		cur := op.status.Load()
		if op.status.CompareAndSwap(cur, cur&^uint32(b)) {
			return
		}
	}
}

func (op *OpID) hasBit(b OpStatus) bool {
	return op.status.Load()&uint32(b) != 0
}

// Reset returns op to its just-allocated state (COMPLETED, refcount 1, every
// field cleared) for pool reuse. status/refcount are atomic fields, so a
// whole-struct copy (*op = *NewOpID()) trips go vet's copylocks check;
// resetting field-by-field avoids that while giving the same result.
func (op *OpID) Reset() {
	op.status.Store(uint32(StatusCompleted))
	op.refcount.Store(1)
	op.Kind = 0
	op.Ctx = nil
	op.Callback = nil
	op.Addr = nil
	op.Tag = 0
	op.Buf = nil
	op.Local = MemHandle{}
	op.LocalOff = 0
	op.Remote = MemHandle{}
	op.RemoteOff = 0
	op.Length = 0
	op.PeerForRDMA = nil
	op.OnCancel = nil
}
