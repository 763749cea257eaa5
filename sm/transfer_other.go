//go:build !linux

// File: sm/transfer_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// process_vm_readv/writev is Linux-only; one-sided Put/Get is unsupported
// elsewhere (spec.md §4.13 Non-goals do not mandate a portable substitute).

package sm

import "github.com/momentics/na-sm/api"

func vmRead(pid int, remoteAddr uintptr, local []byte, length uint64) error {
	return api.ErrOpNotSupported
}

func vmWrite(pid int, remoteAddr uintptr, local []byte, length uint64) error {
	return api.ErrOpNotSupported
}
