//go:build linux

// File: sm/notify_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux notifier backed by eventfd(2), grounded on the teacher's
// reactor/reactor_linux.go wakeup fd and other_examples' epoll/eventfd
// usage in uffd_linux.go.

package sm

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

// eventfdNotifier holds the eventfd as an *os.File rather than a bare fd so
// the descriptor has exactly one owner and survives until Close, whether it
// was created locally or received from a peer over SCM_RIGHTS.
type eventfdNotifier struct {
	f *os.File
}

// newNotifier creates an eventfd-backed notifier. path/own are accepted for
// signature parity with the non-Linux FIFO fallback but are unused: an
// eventfd needs no filesystem path. An eventfd is per-process kernel state,
// so only the creating side calls this; the peer must receive the same fd
// over SCM_RIGHTS (see newNotifierFromFd) rather than create its own —
// independently created eventfds never observe each other's Set calls.
func newNotifier(path string, own bool) (notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, api.NewError(api.ErrCodeFault, "eventfd: "+err.Error())
	}
	return &eventfdNotifier{f: os.NewFile(uintptr(fd), "sm-eventfd")}, nil
}

// newNotifierFromFd wraps an eventfd received from the peer over SCM_RIGHTS,
// so both sides share the same kernel eventfd object (spec.md §4.10 point 3).
func newNotifierFromFd(f *os.File) notifier {
	return &eventfdNotifier{f: f}
}

func (n *eventfdNotifier) Fd() int { return int(n.f.Fd()) }

func (n *eventfdNotifier) Set() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(n.Fd(), buf[:])
	if err != nil && err != unix.EAGAIN {
		return api.NewError(api.ErrCodeFault, "eventfd write: "+err.Error())
	}
	return nil
}

func (n *eventfdNotifier) Clear() error {
	var buf [8]byte
	_, err := unix.Read(n.Fd(), buf[:])
	if err != nil && err != unix.EAGAIN {
		return api.NewError(api.ErrCodeFault, "eventfd read: "+err.Error())
	}
	return nil
}

func (n *eventfdNotifier) Close() error {
	return n.f.Close()
}
