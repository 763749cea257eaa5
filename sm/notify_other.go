//go:build !linux && !windows

// File: sm/notify_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-Linux POSIX notifier fallback backed by a named FIFO, per spec.md §6
// fifo-<conn>-{s,r} paths. Used when eventfd (Linux-only) is unavailable.

package sm

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

type fifoNotifier struct {
	path string
	f    *os.File
	own  bool
}

// newNotifier creates a FIFO-backed notifier at path, creating the FIFO
// itself when own is true (the connection-establishing side).
func newNotifier(path string, own bool) (notifier, error) {
	if own {
		_ = os.Remove(path)
		if err := unix.Mkfifo(path, 0600); err != nil {
			return nil, api.NewError(api.ErrCodeFault, "mkfifo: "+err.Error())
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0600)
	if err != nil {
		return nil, api.NewError(api.ErrCodeFault, "open fifo: "+err.Error())
	}
	return &fifoNotifier{path: path, f: f, own: own}, nil
}

// newNotifierFromFd wraps a FIFO fd received from the peer over SCM_RIGHTS,
// so both sides read/write the same open file description (spec.md §4.10
// point 3) instead of each racing to open the shared path independently.
func newNotifierFromFd(f *os.File) notifier {
	return &fifoNotifier{f: f, own: false}
}

func (n *fifoNotifier) Fd() int { return int(n.f.Fd()) }

func (n *fifoNotifier) Set() error {
	_, err := n.f.Write([]byte{1})
	if err != nil {
		return api.NewError(api.ErrCodeFault, "fifo write: "+err.Error())
	}
	return nil
}

func (n *fifoNotifier) Clear() error {
	var buf [64]byte
	for {
		_, err := n.f.Read(buf[:])
		if err != nil {
			return nil
		}
	}
}

func (n *fifoNotifier) Close() error {
	err := n.f.Close()
	if n.own {
		_ = os.Remove(n.path)
	}
	return err
}
