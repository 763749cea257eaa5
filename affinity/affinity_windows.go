//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows pinning for the SM accept-loop thread via SetThreadAffinityMask.

package affinity

import (
	"syscall"
)

// setAffinityPlatform pins the calling thread to cpuID on Windows.
func setAffinityPlatform(cpuID int) error {
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	procSetThreadAffinityMask := kernel32.NewProc("SetThreadAffinityMask")
	procGetCurrentThread := kernel32.NewProc("GetCurrentThread")
	hThread, _, _ := procGetCurrentThread.Call()
	mask := uintptr(1) << cpuID
	ret, _, err := procSetThreadAffinityMask.Call(hThread, mask)
	if ret == 0 {
		return err
	}
	return nil
}
