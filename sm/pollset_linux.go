//go:build linux

// File: sm/pollset_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// epoll-backed pollSet, generalized from the teacher's
// internal/concurrency/poller_linux.go LinuxPoller: same
// EpollCreate1/EpollCtl/EpollWait sequence and edge-triggered (EPOLLET)
// interest, but dispatching a per-fd callback instead of filling a fixed
// ring of api.Buffer.

package sm

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

type epollPollSet struct {
	epfd  int
	cbs   map[int32]pollCallback
	evbuf []unix.EpollEvent
}

func newPollSet(maxEvents int) (pollSet, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewError(api.ErrCodeFault, "epoll_create1: "+err.Error())
	}
	return &epollPollSet{
		epfd:  epfd,
		cbs:   make(map[int32]pollCallback),
		evbuf: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *epollPollSet) Add(fd int, cb pollCallback) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return api.NewError(api.ErrCodeFault, "epoll_ctl add: "+err.Error())
	}
	p.cbs[int32(fd)] = cb
	return nil
}

func (p *epollPollSet) Remove(fd int) error {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(p.cbs, int32(fd))
	return nil
}

func (p *epollPollSet) Poll(timeoutMs int64) (int, error) {
	to := int(timeoutMs)
	if timeoutMs < 0 {
		to = -1
	}
	n, err := unix.EpollWait(p.epfd, p.evbuf, to)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, api.NewError(api.ErrCodeFault, "epoll_wait: "+err.Error())
	}
	fired := 0
	for i := 0; i < n; i++ {
		if cb, ok := p.cbs[p.evbuf[i].Fd]; ok && cb != nil {
			cb()
			fired++
		}
	}
	return fired, nil
}

func (p *epollPollSet) Close() error {
	return unix.Close(p.epfd)
}
