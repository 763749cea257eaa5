//go:build windows

// File: sm/pollset_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// No UNIX-domain-socket connection establishment exists on Windows for this
// plugin (spec.md §4.10), so the poll set is stubbed rather than faked.

package sm

import "github.com/momentics/na-sm/api"

func newPollSet(maxEvents int) (pollSet, error) {
	return nil, api.ErrOpNotSupported
}
