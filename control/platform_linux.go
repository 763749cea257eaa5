//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux debug probes for the SM engine: CPU count (context for
// affinity_cpu) and the page size shared-memory regions are rounded to
// (sm.shmRegion, spec.md §4.10).

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes sets Linux-specific debug metrics.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.page_size", func() any {
		return os.Getpagesize()
	})
}
