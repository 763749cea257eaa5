package sm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaReserveCopyReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena")
	a, err := newArenaOwner(path, 4, 16)
	require.NoError(t, err)
	defer a.close()

	idx, ok := a.Reserve()
	require.True(t, ok)
	require.Equal(t, 0, idx)

	n := a.CopyIn(idx, []byte("hello"))
	require.Equal(t, 5, n)

	dst := make([]byte, 5)
	n = a.CopyOut(idx, dst, 5)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(dst))

	a.Release(idx)
	idx2, ok := a.Reserve()
	require.True(t, ok)
	require.Equal(t, 0, idx2)
}

func TestArenaExhaustion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena")
	a, err := newArenaOwner(path, 2, 8)
	require.NoError(t, err)
	defer a.close()

	_, ok := a.Reserve()
	require.True(t, ok)
	_, ok = a.Reserve()
	require.True(t, ok)
	_, ok = a.Reserve()
	require.False(t, ok)
}

func TestArenaCopyInTruncatesToSlotSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena")
	a, err := newArenaOwner(path, 1, 4)
	require.NoError(t, err)
	defer a.close()

	idx, ok := a.Reserve()
	require.True(t, ok)
	n := a.CopyIn(idx, []byte("toolong"))
	require.Equal(t, 4, n)
}

func TestNewArenaOwnerRejectsOutOfRangeSlotCount(t *testing.T) {
	_, err := newArenaOwner(filepath.Join(t.TempDir(), "arena"), 0, 8)
	require.Error(t, err)
	_, err = newArenaOwner(filepath.Join(t.TempDir(), "arena2"), 65, 8)
	require.Error(t, err)
}

func TestArenaOpenFromOwnerSharesSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena")
	owner, err := newArenaOwner(path, 4, 16)
	require.NoError(t, err)
	defer owner.close()

	idx, ok := owner.Reserve()
	require.True(t, ok)
	owner.CopyIn(idx, []byte("peer data"))

	peer, err := openArena(path, 4, 16)
	require.NoError(t, err)
	defer peer.close()

	dst := make([]byte, len("peer data"))
	peer.CopyOut(idx, dst, len(dst))
	require.Equal(t, "peer data", string(dst))
}
