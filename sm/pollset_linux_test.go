//go:build linux

package sm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPollSetDispatchesCallbackOnReadyFd(t *testing.T) {
	ps, err := newPollSet(8)
	require.NoError(t, err)
	defer ps.Close()

	n, err := newNotifier("", true)
	require.NoError(t, err)
	defer n.Close()

	fired := 0
	require.NoError(t, ps.Add(n.Fd(), func() { fired++ }))

	require.NoError(t, n.Set())
	count, err := ps.Poll(100)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, fired)
	require.NoError(t, n.Clear())
}

func TestPollSetRemoveStopsDispatch(t *testing.T) {
	ps, err := newPollSet(8)
	require.NoError(t, err)
	defer ps.Close()

	n, err := newNotifier("", true)
	require.NoError(t, err)
	defer n.Close()

	fired := 0
	require.NoError(t, ps.Add(n.Fd(), func() { fired++ }))
	require.NoError(t, ps.Remove(n.Fd()))

	require.NoError(t, n.Set())
	count, err := ps.Poll(50)
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, 0, fired)
}

func TestPollSetTimesOutWithNothingReady(t *testing.T) {
	ps, err := newPollSet(8)
	require.NoError(t, err)
	defer ps.Close()

	count, err := ps.Poll(10)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
