//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Platforms with no pinning primitive: the SM accept loop runs unpinned.

package affinity

import "errors"

// setAffinityPlatform always fails: this platform has no thread-pinning API.
func setAffinityPlatform(cpuID int) error {
	return errors.New("affinity: CPU pinning not supported on this platform")
}
