//go:build windows
// +build windows

// control/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows debug probes for the SM engine: CPU count (context for
// affinity_cpu) and the page size shared-memory regions are rounded to
// (sm.shmRegion, spec.md §4.10).

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes sets Windows-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.page_size", func() any {
		return os.Getpagesize()
	})
}
