//go:build linux

// File: sm/transfer_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-process VM copy for one-sided Put/Get (spec.md §4.13), built on
// process_vm_readv/writev via golang.org/x/sys/unix, with the same
// argument/error shape as the teacher's transport_linux.go SendmsgBuffers
// wrapper: one syscall per call, partial-transfer is treated as an error.

package sm

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

// vmRead copies length bytes from pid's address space at remoteAddr into
// local (Get).
func vmRead(pid int, remoteAddr uintptr, local []byte, length uint64) error {
	iov := unix.Iovec{Base: &local[0]}
	iov.SetLen(int(length))
	localIov := []unix.Iovec{iov}
	remoteIov := []unix.RemoteIovec{{Base: remoteAddr, Len: int(length)}}
	n, err := unix.ProcessVMReadv(pid, localIov, remoteIov, 0)
	if err != nil {
		return api.NewError(api.ErrCodeFault, "process_vm_readv: "+err.Error())
	}
	if uint64(n) != length {
		return api.NewError(api.ErrCodeMsgSize, "process_vm_readv: short transfer")
	}
	return nil
}

// vmWrite copies length bytes from local into pid's address space at
// remoteAddr (Put).
func vmWrite(pid int, remoteAddr uintptr, local []byte, length uint64) error {
	iov := unix.Iovec{Base: &local[0]}
	iov.SetLen(int(length))
	localIov := []unix.Iovec{iov}
	remoteIov := []unix.RemoteIovec{{Base: remoteAddr, Len: int(length)}}
	n, err := unix.ProcessVMWritev(pid, localIov, remoteIov, 0)
	if err != nil {
		return api.NewError(api.ErrCodeFault, "process_vm_writev: "+err.Error())
	}
	if uint64(n) != length {
		return api.NewError(api.ErrCodeMsgSize, "process_vm_writev: short transfer")
	}
	return nil
}
