// File: sm/shmring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ShmRing is the shared ring buffer of spec.md §4.5/§6: a fixed power-of-two
// capacity queue of packed 64-bit headers placed in its own page-aligned SHM
// region, one per direction per connection. Grounded on the teacher's
// core/concurrency/ring.go CAS discipline, re-targeted at a byte-addressed
// mmap instead of a Go slice, and simplified to the spec's zero-sentinel
// protocol: head/tail cursors are ordinary process-local atomics (each ring
// has exactly one writing process and one reading process; "producers are
// serialized by internal CAS on the head" per spec.md §4.5 means CAS among
// that process's own goroutines, not a cross-process shared cursor), while
// the cell contents themselves are the only state living in shared memory,
// consistent with the wire-level design other_examples' netstack
// sharedmem/queue package uses for its own rx/tx pipes.

package sm

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/na-sm/api"
)

// headerType enumerates the ring header Type field (spec.md §6).
type headerType uint8

const (
	headerSendUnexpected headerType = 1
	headerSendExpected   headerType = 2
)

// packHeader lays out {type:4, slot-idx:8, buf-size:16, tag:32, reserved:4}
// little-endian within one uint64, per spec.md §6.
func packHeader(typ headerType, slotIdx uint8, bufSize uint16, tag uint32) uint64 {
	var h uint64
	h |= uint64(typ&0xF) << 0
	h |= uint64(slotIdx) << 4
	h |= uint64(bufSize) << 12
	h |= uint64(tag) << 28
	return h
}

func unpackHeader(h uint64) (typ headerType, slotIdx uint8, bufSize uint16, tag uint32) {
	typ = headerType(h & 0xF)
	slotIdx = uint8((h >> 4) & 0xFF)
	bufSize = uint16((h >> 12) & 0xFFFF)
	tag = uint32((h >> 28) & 0xFFFFFFFF)
	return
}

// ShmRing is a fixed power-of-two capacity lock-free queue of uint64 headers
// backed by shared memory.
type ShmRing struct {
	region *shmRegion
	cap    uint64
	mask   uint64

	head atomic.Uint64 // process-local producer cursor
	tail atomic.Uint64 // process-local consumer cursor
}

func ringCapacityBytes(capacity int) int {
	return capacity * 8
}

// newShmRingOwner creates the backing SHM region for a new ring (used by the
// side that allocates the connection, per spec.md §4.10).
func newShmRingOwner(path string, capacity int) (*ShmRing, error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, api.NewError(api.ErrCodeInvalidArg, "ring capacity must be a power of two")
	}
	region, err := createShm(path, ringCapacityBytes(capacity))
	if err != nil {
		return nil, err
	}
	return &ShmRing{region: region, cap: uint64(capacity), mask: uint64(capacity - 1)}, nil
}

// openShmRing maps an existing ring created by the peer.
func openShmRing(path string, capacity int) (*ShmRing, error) {
	region, err := openShm(path, ringCapacityBytes(capacity))
	if err != nil {
		return nil, err
	}
	return &ShmRing{region: region, cap: uint64(capacity), mask: uint64(capacity - 1)}, nil
}

// openShmRingFromFile maps a ring from an fd received over SCM_RIGHTS.
func openShmRingFromFile(f *os.File, capacity int) (*ShmRing, error) {
	region, err := mapShmFromFile(f, ringCapacityBytes(capacity))
	if err != nil {
		return nil, err
	}
	return &ShmRing{region: region, cap: uint64(capacity), mask: uint64(capacity - 1)}, nil
}

func (r *ShmRing) cellPtr(idx uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.region.data[idx*8]))
}

func (r *ShmRing) loadCell(idx uint64) uint64 {
	return atomic.LoadUint64(r.cellPtr(idx))
}

func (r *ShmRing) storeCell(idx uint64, v uint64) {
	atomic.StoreUint64(r.cellPtr(idx), v)
}

// Push publishes header into the ring; returns false if full (the slot at
// the candidate index is still occupied by an unconsumed header).
func (r *ShmRing) Push(header uint64) bool {
	if header == 0 {
		panic("sm: shmring header must never be zero")
	}
	for {
		head := r.head.Load()
		idx := head & r.mask
		if r.loadCell(idx) != 0 {
			return false
		}
		if r.head.CompareAndSwap(head, head+1) {
			r.storeCell(idx, header)
			return true
		}
	}
}

// Pop removes and returns the oldest header; ok is false if empty.
func (r *ShmRing) Pop() (header uint64, ok bool) {
	for {
		tail := r.tail.Load()
		idx := tail & r.mask
		cur := r.loadCell(idx)
		if cur == 0 {
			return 0, false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			r.storeCell(idx, 0)
			return cur, true
		}
	}
}

// Peek reports whether the next unread header is present, without
// consuming it (used by SmEngine.PollTryWait, spec.md §8 property 7).
func (r *ShmRing) Peek() bool {
	tail := r.tail.Load()
	idx := tail & r.mask
	return r.loadCell(idx) != 0
}

func (r *ShmRing) close() {
	if r != nil {
		r.region.close()
	}
}
