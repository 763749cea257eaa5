// File: core/completion/gate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Gate is the multi-progress mutual-exclusion primitive of spec.md §4.4: a
// single 32-bit atomic whose low 31 bits count threads inside Progress and
// whose bit 31 marks a thread actively running the plugin's blocking
// progress call. It intentionally shares neither mutex nor condvar with
// Context's trigger-wait path (spec.md §4.4 closing note). This is new code
// (no teacher analogue of a progress gate exists); it renders the spec's own
// CAS protocol directly using sync/atomic plus a timer-backed condvar for
// the bounded wait, the same pattern Context uses for Trigger.

package completion

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/na-sm/api"
)

const gateLockBit = uint32(1) << 31

// Gate implements spec.md §4.4.
type Gate struct {
	mu   sync.Mutex
	cond *sync.Cond
	word atomic.Uint32
}

// NewGate creates an idle gate.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Enter blocks until this goroutine may run the plugin's blocking progress
// call, or until timeoutMs elapses.
func (g *Gate) Enter(timeoutMs int64) error {
	dl := deadlineFrom(timeoutMs)
	g.word.Add(1)
	for {
		cur := g.word.Load()
		if cur&gateLockBit == 0 {
			if g.word.CompareAndSwap(cur, cur|gateLockBit) {
				return nil
			}
			continue
		}
		remaining := dl.remainingMs()
		if remaining <= 0 {
			g.word.Add(^uint32(0)) // -1
			return api.ErrTimeout
		}
		g.wait(remaining)
	}
}

// Exit releases the lock bit and, if other threads are still waiting inside
// Enter, wakes them to retry.
func (g *Gate) Exit() {
	for {
		cur := g.word.Load()
		next := (cur - 1) ^ gateLockBit
		if g.word.CompareAndSwap(cur, next) {
			if next&^gateLockBit > 0 {
				g.mu.Lock()
				g.cond.Broadcast()
				g.mu.Unlock()
			}
			return
		}
	}
}

func (g *Gate) wait(remainingMs int64) {
	g.mu.Lock()
	timer := time.AfterFunc(time.Duration(remainingMs)*time.Millisecond, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	g.cond.Wait()
	timer.Stop()
	g.mu.Unlock()
}
