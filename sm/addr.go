// File: sm/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SmAddr is the SM address registry of spec.md §4.9: a refcounted api.Addr
// plus the accepted-addr and poll-addr queues that Listen()/Progress() use to
// hand newly-accepted peers to the caller. The registry itself is grounded on
// the teacher's internal/session/store.go sharded SessionManager (same
// fnv32-sharded map discipline, here keyed by a uuid.New() identifier per
// spec.md §4.17 rather than a caller-supplied session id).

package sm

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/momentics/na-sm/api"
	"github.com/momentics/na-sm/core/list"
)

// SmAddr is the SM plugin's api.Addr implementation: one instance per
// connection, refcounted so Dup/Free can be called independently by every
// OpID and Completion that references the peer.
type SmAddr struct {
	id       string
	pid      int
	instance int

	refcount atomic.Int32
	registry *addrRegistry
	conn     *smConn
}

var _ api.Addr = (*SmAddr)(nil)

// Dup increments the reference count and returns the same address value
// (spec.md §4.9: addresses are shared, not copied).
func (a *SmAddr) Dup() api.Addr {
	a.refcount.Add(1)
	return a
}

// Free decrements the reference count; at zero the address is removed from
// its registry and its connection is torn down.
func (a *SmAddr) Free() {
	if a.refcount.Add(-1) == 0 {
		a.registry.remove(a.id)
		if a.conn != nil {
			a.conn.close()
		}
	}
}

func (a *SmAddr) String() string {
	return fmt.Sprintf("sm://%d-%d/%s", a.pid, a.instance, a.id)
}

// HostID renders the "<pid>:<instance>" form Lookup's host argument expects
// (spec.md §6), letting a listener publish an address a connector can dial.
func (a *SmAddr) HostID() string {
	return fmt.Sprintf("%d:%d", a.pid, a.instance)
}

// addrRegistry is a sharded, thread-safe table of live SmAddr values plus the
// accepted-addr and poll-addr queues consumed by Listen/Progress.
type addrRegistry struct {
	shards []*addrShard
	mask   uint32

	acceptedMu sync.Mutex
	accepted   *list.List[*SmAddr]

	pollMu sync.Mutex
	poll   *list.List[*SmAddr]
}

type addrShard struct {
	mu   sync.RWMutex
	addr map[string]*SmAddr
}

func newAddrRegistry(shardCount int) *addrRegistry {
	m := nextPowerOfTwoU32(uint32(shardCount))
	shards := make([]*addrShard, m)
	for i := range shards {
		shards[i] = &addrShard{addr: make(map[string]*SmAddr)}
	}
	return &addrRegistry{
		shards:   shards,
		mask:     m - 1,
		accepted: list.New[*SmAddr](),
		poll:     list.New[*SmAddr](),
	}
}

func (r *addrRegistry) shard(id string) *addrShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()&r.mask]
}

// newAddr allocates a fresh refcounted SmAddr (refcount starts at 1) and
// registers it.
func (r *addrRegistry) newAddr(pid, instance int, conn *smConn) *SmAddr {
	a := &SmAddr{id: uuid.New().String(), pid: pid, instance: instance, registry: r, conn: conn}
	a.refcount.Store(1)
	sh := r.shard(a.id)
	sh.mu.Lock()
	sh.addr[a.id] = a
	sh.mu.Unlock()
	return a
}

func (r *addrRegistry) remove(id string) {
	sh := r.shard(id)
	sh.mu.Lock()
	delete(sh.addr, id)
	sh.mu.Unlock()
}

// pushAccepted enqueues a freshly-accepted peer address for delivery through
// Engine.Progress (spec.md §4.10).
func (r *addrRegistry) pushAccepted(a *SmAddr) {
	r.acceptedMu.Lock()
	r.accepted.PushBack(a)
	r.acceptedMu.Unlock()
}

// popAccepted dequeues the oldest accepted address, if any.
func (r *addrRegistry) popAccepted() (*SmAddr, bool) {
	r.acceptedMu.Lock()
	defer r.acceptedMu.Unlock()
	return r.accepted.PopFront()
}

// pushPollable enqueues an address whose notifier fired and needs
// Progress-time attention.
func (r *addrRegistry) pushPollable(a *SmAddr) {
	r.pollMu.Lock()
	r.poll.PushBack(a)
	r.pollMu.Unlock()
}

func (r *addrRegistry) popPollable() (*SmAddr, bool) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	return r.poll.PopFront()
}

func nextPowerOfTwoU32(v uint32) uint32 {
	if v < 1 {
		v = 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
