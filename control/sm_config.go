// File: control/sm_config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SMConfig holds the SM plugin's tunables (spec.md §4.15): values the spec
// treats as constants (NUM_BUFS, COPY_SIZE, ring capacities, ACCEPT_INTERVAL)
// kept overridable here so tests can shrink them. Defaults match spec.md
// exactly. Sits alongside the ConfigStore/MetricsRegistry/DebugProbes
// adapted from the teacher, which na-sm uses for dynamic key/value overrides
// and runtime introspection.

package control

import (
	"os"
	"time"
)

const (
	DefaultNumBufs           = 64
	DefaultCopySize          = 4096
	DefaultShmRingCapacity   = 64
	DefaultFastQueueCapacity = 1024
	DefaultAcceptInterval    = 100 * time.Millisecond
	DefaultPathPrefix        = "na_sm"
)

// SMConfig is the set of per-class tunables for the SM transport plugin.
type SMConfig struct {
	NumBufs           int
	CopySize          int
	ShmRingCapacity   int
	FastQueueCapacity int
	AcceptInterval    time.Duration
	PathPrefix        string
	TmpDir            string
	ShmDir            string

	// AffinityCPU pins the accept-loop goroutine's OS thread to a logical
	// CPU close to the NUMA node backing ShmDir. -1 (the default) leaves
	// scheduling to the Go runtime.
	AffinityCPU int
}

// DefaultSMConfig returns the spec.md-mandated defaults.
func DefaultSMConfig() SMConfig {
	return SMConfig{
		NumBufs:           DefaultNumBufs,
		CopySize:          DefaultCopySize,
		ShmRingCapacity:   DefaultShmRingCapacity,
		FastQueueCapacity: DefaultFastQueueCapacity,
		AcceptInterval:    DefaultAcceptInterval,
		PathPrefix:        DefaultPathPrefix,
		TmpDir:            os.TempDir(),
		ShmDir:            "/dev/shm",
		AffinityCPU:       -1,
	}
}
