// File: sm/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Put/Get offset resolution and access-flag validation (spec.md §4.12): a
// MemHandle is a list of (base, length) segments; resolveOffset walks the
// segment list the way the api.MemHandle wire format lays them out and
// returns the absolute address plus the contiguous run length available
// from that point, so the cross-process VM copy never straddles a segment
// boundary in one call.

package sm

import "github.com/momentics/na-sm/api"

// resolveOffset walks h's segments and returns the absolute address at
// logical offset off, plus how many contiguous bytes remain in that segment.
func resolveOffset(h api.MemHandle, off uint64) (addr uintptr, avail uint64, err error) {
	if off >= h.Length {
		return 0, 0, api.NewError(api.ErrCodeInvalidArg, "offset beyond handle length")
	}
	var walked uint64
	for _, seg := range h.Segments {
		if off < walked+seg.Length {
			within := off - walked
			return seg.Base + uintptr(within), seg.Length - within, nil
		}
		walked += seg.Length
	}
	return 0, 0, api.NewError(api.ErrCodeInvalidArg, "offset not covered by any segment")
}

// validateAccess enforces spec.md §4.12: Put requires AllowsWrite on the
// remote (target) handle, Get requires AllowsRead on the remote (source)
// handle; the local side is always this process's own buffer and is never
// flag-checked.
func validateAccess(kind api.Kind, remote api.MemHandle) error {
	switch kind {
	case api.KindPut:
		if !remote.Flags.AllowsWrite() {
			return api.NewError(api.ErrCodePermission, "remote handle is not writable")
		}
	case api.KindGet:
		if !remote.Flags.AllowsRead() {
			return api.NewError(api.ErrCodePermission, "remote handle is not readable")
		}
	}
	return nil
}

// boundsCheck ensures [off, off+length) fits within h's declared Length.
func boundsCheck(h api.MemHandle, off, length uint64) error {
	if off+length < off || off+length > h.Length {
		return api.NewError(api.ErrCodeInvalidArg, "transfer range exceeds handle length")
	}
	return nil
}
