// File: core/completion/context.go
// Package completion implements the per-class completion domain of
// spec.md §3/§4.3: a bounded lock-free fast queue with an unbounded
// overflow FIFO, drained by Trigger, plus the optional multi-progress gate
// of §4.4.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on the teacher's core/concurrency/eventloop.go: batched drain of
// a bounded structure with a timer-backed wait when empty. Context adapts
// that shape to the spec's two-path (fast + overflow) completion protocol
// and its FIFO-within-each-path ordering guarantee (spec.md §5).

package completion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/na-sm/api"
	"github.com/momentics/na-sm/core/list"
	"github.com/momentics/na-sm/core/queue"
)

// DefaultFastCapacity is the spec.md §3 "~1024 entries" fast-queue depth.
const DefaultFastCapacity = 1024

// Context implements api.Context.
type Context struct {
	fast     *queue.Bounded[*api.Completion]
	overflow *list.List[*api.Completion]

	overflowCount atomic.Int64

	mu             sync.Mutex
	cond           *sync.Cond
	triggerWaiting atomic.Int32

	gate *Gate

	closed atomic.Bool
}

// New creates a Context with the given fast-queue capacity. If
// multiProgress is true, the context also owns a Gate (spec.md §4.4); pass
// false for plugins/contexts that never run progress concurrently.
func New(fastCapacity int, multiProgress bool) *Context {
	if fastCapacity <= 0 {
		fastCapacity = DefaultFastCapacity
	}
	ctx := &Context{
		fast:     queue.NewBounded[*api.Completion](fastCapacity),
		overflow: list.New[*api.Completion](),
	}
	ctx.cond = sync.NewCond(&ctx.mu)
	if multiProgress {
		ctx.gate = NewGate()
	}
	return ctx
}

// Gate returns the context's multi-progress gate, or nil if disabled.
func (c *Context) Gate() *Gate { return c.gate }

// Add publishes a completion record (spec.md §4.3 completion_add).
func (c *Context) Add(rec *api.Completion) {
	if !c.fast.Push(rec) {
		c.overflow.PushBack(rec)
		c.overflowCount.Add(1)
	}
	if c.triggerWaiting.Load() > 0 {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Trigger drains up to maxCount completions (spec.md §4.3).
func (c *Context) Trigger(timeoutMs int64, maxCount int) (int, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	dl := deadlineFrom(timeoutMs)
	dispatched := 0
	for dispatched < maxCount {
		rec, ok := c.fast.Pop()
		if !ok && c.overflowCount.Load() > 0 {
			if v, popped := c.overflow.PopFront(); popped {
				c.overflowCount.Add(-1)
				rec, ok = v, true
			}
		}
		if !ok {
			if dispatched > 0 {
				break
			}
			remaining := dl.remainingMs()
			if remaining <= 0 {
				return dispatched, api.ErrTimeout
			}
			c.waitForWork(remaining)
			continue
		}
		dispatched++
		invoke(rec)
	}
	return dispatched, nil
}

func invoke(rec *api.Completion) {
	if rec.Callback != nil {
		rec.Callback(rec)
	}
	if rec.Release != nil {
		rec.Release(rec)
	}
}

func (c *Context) waitForWork(remainingMs int64) {
	c.triggerWaiting.Add(1)
	defer c.triggerWaiting.Add(-1)
	c.mu.Lock()
	timer := time.AfterFunc(time.Duration(remainingMs)*time.Millisecond, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	c.cond.Wait()
	timer.Stop()
	c.mu.Unlock()
}

// Cancel marks op canceled and invokes its engine-registered hook, if any,
// so the owning engine can unlink it from a private queue (spec.md §4.3).
func (c *Context) Cancel(op *api.OpID) error {
	if !op.Cancel() {
		return nil
	}
	if op.OnCancel != nil {
		op.OnCancel(op)
	}
	return nil
}

// TryWaitEmpty reports whether both completion paths are empty. Callers
// that also own peer receive rings must additionally check those
// (spec.md §8 property 7) through the owning Engine's PollTryWait, which
// composes this with its own per-connection ring state.
func (c *Context) TryWaitEmpty() bool {
	return c.fast.Len() == 0 && c.overflowCount.Load() == 0
}

// GateEnter implements api.Context.GateEnter.
func (c *Context) GateEnter(timeoutMs int64) error {
	if c.gate == nil {
		return nil
	}
	return c.gate.Enter(timeoutMs)
}

// GateExit implements api.Context.GateExit.
func (c *Context) GateExit() {
	if c.gate == nil {
		return
	}
	c.gate.Exit()
}

// Close marks the context closed. Pending AfterFunc timers self-stop; no
// goroutines are leaked by Context itself.
func (c *Context) Close() error {
	c.closed.Store(true)
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

var _ api.Context = (*Context)(nil)
