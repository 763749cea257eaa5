//go:build !linux && !windows

// File: sm/pollset_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable poll(2)-based pollSet fallback for non-Linux POSIX systems,
// mirroring the teacher's reactor/reactor_stub.go portability pattern
// (a select{}/generic-syscall fallback alongside the Linux-specific
// epoll_reactor.go).

package sm

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

type pollEntry struct {
	fd int
	cb pollCallback
}

type portablePollSet struct {
	mu      sync.Mutex
	entries []pollEntry
}

func newPollSet(maxEvents int) (pollSet, error) {
	return &portablePollSet{}, nil
}

func (p *portablePollSet) Add(fd int, cb pollCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, pollEntry{fd: fd, cb: cb})
	return nil
}

func (p *portablePollSet) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.fd == fd {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (p *portablePollSet) Poll(timeoutMs int64) (int, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, len(p.entries))
	cbs := make([]pollCallback, len(p.entries))
	for i, e := range p.entries {
		fds[i] = unix.PollFd{Fd: int32(e.fd), Events: unix.POLLIN}
		cbs[i] = e.cb
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		return 0, nil
	}
	to := int(timeoutMs)
	if timeoutMs < 0 {
		to = -1
	}
	_, err := unix.Poll(fds, to)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, api.NewError(api.ErrCodeFault, "poll: "+err.Error())
	}
	fired := 0
	for i := range fds {
		if fds[i].Revents&unix.POLLIN != 0 && cbs[i] != nil {
			cbs[i]()
			fired++
		}
	}
	return fired, nil
}

func (p *portablePollSet) Close() error {
	return nil
}
