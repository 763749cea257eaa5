// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for the SM engine's accept loop (control.SMConfig.AffinityCPU,
// spec.md §4.10): keeping the goroutine that owns a listener's rendezvous
// socket off the core the caller's Progress loop polls from avoids the two
// contending for the same cache lines. Platform bodies live in
// affinity_linux.go / affinity_windows.go / affinity_stub.go.

package affinity

// PinCurrentThread pins the calling OS thread to cpuID. Callers must have
// already called runtime.LockOSThread, since affinity is a property of the
// OS thread, not the goroutine. Returns an error on platforms with no
// pinning primitive.
func PinCurrentThread(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
