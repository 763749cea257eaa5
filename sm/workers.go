// File: sm/workers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// dispatch hands background work (listener-side connection handshakes) to a
// bounded goroutine pool instead of a raw `go func(){}()`, grounded on the
// cloudwego-gopkg example repo's concurrency/gopool package (SPEC_FULL.md
// §4.16).

package sm

import (
	"context"

	"github.com/cloudwego/gopkg/concurrency/gopool"

	"github.com/momentics/na-sm/internal/logging"
)

func init() {
	gopool.SetPanicHandler(func(ctx context.Context, r interface{}) {
		logging.Component("sm.workers").WithField("panic", r).Error("worker panic recovered")
	})
}

// dispatch runs f on the shared worker pool.
func dispatch(f func()) {
	gopool.Go(f)
}
