// File: api/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the transport-engine contract (spec.md §4.11): every plugin
// class, once initialized, exposes this surface to the caller regardless of
// its underlying transport. This is the Go rendering of Design Notes §9's
// "callback-with-arg plugin tables become a trait/interface over transport
// ops" guidance: a slice of these is the dispatch table's opaque state.

package api

// Engine is the per-class operation surface produced by a plugin's Initialize.
type Engine interface {
	// Protocol returns the plugin-defined protocol name this class was bound to.
	Protocol() string
	// Listen reports whether this class was initialized to accept connections.
	Listen() bool
	// NewContext creates a new completion domain owned by this class.
	NewContext() (Context, error)

	// Lookup resolves host into a bound Addr, delivered via a LOOKUP completion.
	Lookup(ctx Context, host string, cb CompletionCallback) (*OpID, error)

	// MsgSendUnexpected/MsgSendExpected post a send; see spec.md §4.11.
	MsgSendUnexpected(ctx Context, dest Addr, tag uint32, buf []byte, cb CompletionCallback) (*OpID, error)
	MsgSendExpected(ctx Context, dest Addr, tag uint32, buf []byte, cb CompletionCallback) (*OpID, error)

	// MsgRecvUnexpected/MsgRecvExpected post a receive; see spec.md §4.11.
	MsgRecvUnexpected(ctx Context, buf []byte, cb CompletionCallback) (*OpID, error)
	MsgRecvExpected(ctx Context, source Addr, tag uint32, buf []byte, cb CompletionCallback) (*OpID, error)

	// Put/Get perform one-sided memory transfer (spec.md §4.11/§4.12).
	Put(ctx Context, local MemHandle, loff uint64, remote MemHandle, roff uint64, length uint64, peer Addr, cb CompletionCallback) (*OpID, error)
	Get(ctx Context, local MemHandle, loff uint64, remote MemHandle, roff uint64, length uint64, peer Addr, cb CompletionCallback) (*OpID, error)

	// Progress drives the plugin's blocking readiness wait for ctx, subject
	// to the multi-progress gate (spec.md §4.4). It returns whether any
	// useful work was performed.
	Progress(ctx Context, timeoutMs int64) (bool, error)

	// AddrSelf returns this class's own (self=true) address.
	AddrSelf() Addr

	// PollTryWait composes ctx.TryWaitEmpty with this engine's own pending
	// receive state (spec.md §8 property 7, poll_try_wait): true only if
	// ctx has no pending completions AND no connection this engine owns has
	// a receive-side header still waiting to be drained.
	PollTryWait(ctx Context) bool

	// Finalize tears down the class and all its resources (spec.md §4.2).
	Finalize() error
}
