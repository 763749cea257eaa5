// File: sm/opid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// opIDPool reuses api.OpID values across operations (spec.md §4.3/Design
// Notes §9: an OpID may be reposted once it is COMPLETED with refcount 1,
// which is the CAS-guarded reuse api.OpID.TryAcquire implements).
// Grounded on the teacher's pool/objpool.go SyncPool wrapper around
// sync.Pool, generalized so Get also resets OpID fields on reuse so a
// recycled value never leaks a stale callback or buffer.

package sm

import (
	"sync"

	"github.com/momentics/na-sm/api"
)

// opIDPool satisfies api.ObjectPool[*api.OpID].
var _ api.ObjectPool[*api.OpID] = (*opIDPool)(nil)

type opIDPool struct {
	pool sync.Pool
}

func newOpIDPool() *opIDPool {
	return &opIDPool{pool: sync.Pool{New: func() any { return api.NewOpID() }}}
}

// Get returns a ready-to-use OpID, fully reset.
func (p *opIDPool) Get() *api.OpID {
	op := p.pool.Get().(*api.OpID)
	op.Reset()
	return op
}

// Put returns op to the pool. Callers must not touch op afterward.
func (p *opIDPool) Put(op *api.OpID) {
	p.pool.Put(op)
}
