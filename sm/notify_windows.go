//go:build windows

// File: sm/notify_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The SM plugin targets UNIX-domain socket connection establishment and
// process_vm_readv/writev-style transfer (spec.md §4.10/§4.13), neither of
// which exists on Windows; notify is stubbed accordingly rather than
// faked behind a non-functional substitute.

package sm

import (
	"os"

	"github.com/momentics/na-sm/api"
)

func newNotifier(path string, own bool) (notifier, error) {
	return nil, api.ErrOpNotSupported
}

func newNotifierFromFd(f *os.File) notifier {
	return nil
}
