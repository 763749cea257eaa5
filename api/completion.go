// File: api/completion.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion is the record produced by an engine and consumed exactly once
// by the trigger loop (spec.md §3). Context is the user-facing completion
// domain contract; its concrete implementation lives in package
// core/completion and is returned to callers as this interface so that any
// future plugin can share the same trigger/cancel surface.

package api

// CompletionCallback is invoked by the trigger loop with the finished record.
type CompletionCallback func(*Completion)

// ReleaseFunc lets the producing plugin reclaim resources (e.g. an op-id,
// a copy slot) after the user callback has returned.
type ReleaseFunc func(*Completion)

// Completion is produced by an Engine and consumed by Context.Trigger.
type Completion struct {
	Op       *OpID
	Kind     Kind
	Result   error
	Callback CompletionCallback
	Release  ReleaseFunc

	// Kind-specific payload.
	Source        Addr
	Tag           uint32
	ActualBufSize int
	Buf           []byte
}

// Context is a completion domain: a fast bounded queue plus an unbounded
// overflow path, drained by Trigger (spec.md §3/§4.3).
type Context interface {
	// Add publishes a completion record (spec.md §4.3 completion_add).
	Add(rec *Completion)
	// Trigger drains up to maxCount completions, invoking each callback and
	// release function in order; it blocks up to timeoutMs waiting for at
	// least one if none are immediately available (spec.md §4.3).
	Trigger(timeoutMs int64, maxCount int) (int, error)
	// Cancel marks op as canceled, removing it from its owning queue if
	// still queued (spec.md §4.3 Cancellation).
	Cancel(op *OpID) error
	// TryWaitEmpty reports whether both completion paths are currently
	// empty. This alone is not poll_try_wait (spec.md §8 property 7): a
	// caller that also owns peer receive rings must additionally check
	// those through the owning Engine's PollTryWait.
	TryWaitEmpty() bool
	// GateEnter blocks until this goroutine may run the plugin's blocking
	// progress call, or until timeoutMs elapses (spec.md §4.4 multi-progress
	// mutual exclusion). A no-op on contexts created without the gate.
	GateEnter(timeoutMs int64) error
	// GateExit releases the gate acquired by a matching GateEnter.
	GateExit()
	// Close releases the context's internal resources.
	Close() error
}
