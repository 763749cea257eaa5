// File: core/completion/deadline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Millisecond deadline helpers shared by Context.Trigger and Gate.Enter.
// A negative timeoutMs is treated as "block forever"; a negative *remaining*
// time, once a deadline is set, is always treated as zero (spec.md §5).

package completion

import "time"

type deadline struct {
	t       time.Time
	forever bool
}

func deadlineFrom(timeoutMs int64) deadline {
	if timeoutMs < 0 {
		return deadline{forever: true}
	}
	return deadline{t: time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)}
}

// remainingMs returns the milliseconds left until d, clamped to >=0, or a
// large sentinel duration when d is "forever".
func (d deadline) remainingMs() int64 {
	if d.forever {
		return 1<<62 - 1
	}
	rem := time.Until(d.t).Milliseconds()
	if rem < 0 {
		return 0
	}
	return rem
}
