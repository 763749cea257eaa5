//go:build linux

package sm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEventfdNotifierSetClearRoundTrip(t *testing.T) {
	n, err := newNotifier("", true)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Set())

	pfd := []unix.PollFd{{Fd: int32(n.Fd()), Events: unix.POLLIN}}
	cnt, err := unix.Poll(pfd, 100)
	require.NoError(t, err)
	require.Equal(t, 1, cnt)
	require.NotZero(t, pfd[0].Revents&unix.POLLIN)

	require.NoError(t, n.Clear())

	cnt, err = unix.Poll(pfd, 10)
	require.NoError(t, err)
	require.Equal(t, 0, cnt)
}

func TestEventfdNotifierClearWithoutSetIsNoop(t *testing.T) {
	n, err := newNotifier("", true)
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Clear())
}
