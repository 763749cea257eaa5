// File: api/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Addr is the plugin-opaque handle for a peer endpoint. Every plugin
// implements its own concrete address type (e.g. sm.Addr) behind this
// interface; the dispatch and completion layers never look inside it.

package api

// Addr identifies a peer endpoint owned by exactly one Engine.
type Addr interface {
	// Dup increments the address's refcount and returns the same logical
	// address (spec.md §4.9 refcount discipline).
	Dup() Addr
	// Free decrements the refcount, tearing down resources at zero.
	Free()
	// String renders the address back into `[<class>+]<protocol>://<host>` form.
	String() string
}
