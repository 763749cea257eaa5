//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux pinning for the SM accept-loop thread via pthread_setaffinity_np.

package affinity

/*
#define _GNU_SOURCE
#include <sched.h>
#include <pthread.h>
#include <errno.h>

// Pin the calling thread to one CPU core.
int go_setaffinity(int cpu) {
	cpu_set_t set;
	CPU_ZERO(&set);
	CPU_SET(cpu, &set);
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}
*/
import "C"
import "fmt"

// setAffinityPlatform pins the calling thread to cpuID on Linux.
func setAffinityPlatform(cpuID int) error {
	ret := C.go_setaffinity(C.int(cpuID))
	if ret != 0 {
		return fmt.Errorf("affinity: pthread_setaffinity_np failed, code %d", ret)
	}
	return nil
}
