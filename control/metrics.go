// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// MetricsRegistry is the SM engine's runtime counter surface: point-in-time
// gauges ("sm.conns", "sm.retry_pending") refreshed every Progress call via
// Set, plus monotonic counters ("sm.headers_dispatched",
// "sm.retries_completed") that accumulate across calls via Add.

package control

import (
	"sync"
	"time"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or overwrites a gauge-style metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Add increments a counter-style metric by delta, initializing it at delta
// if absent, and returns the new total.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	cur, _ := mr.metrics[key].(int64)
	cur += delta
	mr.metrics[key] = cur
	mr.updated = time.Now()
	return cur
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
