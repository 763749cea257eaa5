// File: api/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MemHandle is the plugin-agnostic memory-handle data model (spec.md §3):
// a sequence of (base, length) segments, an access-flags bitset, and the
// total length. Serialize/Deserialize implement the wire format of spec.md
// §6: `iovcnt (u64) | flags (u64) | length (u64) | (base u64, len u64) x iovcnt`.
//
// Segment bases are only meaningful inside the owning process; a MemHandle
// deserialized in another process must be dereferenced exclusively through
// the cross-process transfer in package sm (spec.md §3).

package api

import (
	"encoding/binary"
	"fmt"
)

// Segment is one contiguous region of a memory handle.
type Segment struct {
	Base   uintptr
	Length uint64
}

// MemHandle is a serializable description of one or more memory regions.
type MemHandle struct {
	Segments []Segment
	Flags    AccessFlags
	Length   uint64
}

// Serialize encodes h into the wire format of spec.md §6. Endianness and
// pointer width are host-local; cross-architecture handles are unsupported.
func (h MemHandle) Serialize() []byte {
	buf := make([]byte, 24+16*len(h.Segments))
	binary.LittleEndian.PutUint64(buf[0:], uint64(len(h.Segments)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.Flags))
	binary.LittleEndian.PutUint64(buf[16:], h.Length)
	off := 24
	for _, s := range h.Segments {
		binary.LittleEndian.PutUint64(buf[off:], uint64(s.Base))
		binary.LittleEndian.PutUint64(buf[off+8:], s.Length)
		off += 16
	}
	return buf
}

// DeserializeMemHandle decodes the wire format produced by Serialize.
func DeserializeMemHandle(buf []byte) (MemHandle, error) {
	if len(buf) < 24 {
		return MemHandle{}, NewError(ErrCodeInvalidArg, "mem handle buffer too short")
	}
	iovcnt := binary.LittleEndian.Uint64(buf[0:])
	flags := AccessFlags(binary.LittleEndian.Uint64(buf[8:]))
	length := binary.LittleEndian.Uint64(buf[16:])
	want := 24 + 16*int(iovcnt)
	if len(buf) < want {
		return MemHandle{}, NewError(ErrCodeInvalidArg, fmt.Sprintf("mem handle buffer short: have %d want %d", len(buf), want))
	}
	segs := make([]Segment, iovcnt)
	off := 24
	for i := range segs {
		segs[i].Base = uintptr(binary.LittleEndian.Uint64(buf[off:]))
		segs[i].Length = binary.LittleEndian.Uint64(buf[off+8:])
		off += 16
	}
	return MemHandle{Segments: segs, Flags: flags, Length: length}, nil
}
