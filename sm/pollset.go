// File: sm/pollset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PollSet is the poll set of spec.md §4.8: an fd demultiplexer (edge-triggered
// on Linux) with per-fd callback dispatch, used to drive Progress(). Grounded on the
// teacher's internal/concurrency/poller_linux.go RegisterFD/Poll shape,
// generalized from a fixed ring-buffer sink to an arbitrary per-fd callback.
// Platform bodies live in pollset_linux.go / pollset_other.go.

package sm

// pollCallback is invoked when its registered fd becomes readable.
type pollCallback func()

// pollSet is the platform-specific fd demultiplexer: edge-triggered on Linux
// (epoll with EPOLLET), level-triggered in the poll(2) fallback.
type pollSet interface {
	// Add registers fd for readability notification.
	Add(fd int, cb pollCallback) error
	// Remove unregisters fd.
	Remove(fd int) error
	// Poll blocks up to timeoutMs (negative = forever, 0 = non-blocking) and
	// invokes callbacks for every fd that became readable. Returns the
	// number of callbacks invoked.
	Poll(timeoutMs int64) (int, error)
	// Close releases the poll set's resources.
	Close() error
}
