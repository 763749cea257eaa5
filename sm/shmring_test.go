package sm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackHeaderRoundTrip(t *testing.T) {
	h := packHeader(headerSendExpected, 37, 4096, 0xDEADBEEF)
	typ, slotIdx, bufSize, tag := unpackHeader(h)
	require.Equal(t, headerSendExpected, typ)
	require.Equal(t, uint8(37), slotIdx)
	require.Equal(t, uint16(4096), bufSize)
	require.Equal(t, uint32(0xDEADBEEF), tag)
}

func TestShmRingPushPopFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	r, err := newShmRingOwner(path, 8)
	require.NoError(t, err)
	defer r.close()

	for i := uint8(0); i < 5; i++ {
		require.True(t, r.Push(packHeader(headerSendUnexpected, i, 10, uint32(i))))
	}
	for i := uint8(0); i < 5; i++ {
		h, ok := r.Pop()
		require.True(t, ok)
		_, slotIdx, _, _ := unpackHeader(h)
		require.Equal(t, i, slotIdx)
	}
	_, ok := r.Pop()
	require.False(t, ok)
}

func TestShmRingFullRejectsPush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	r, err := newShmRingOwner(path, 2)
	require.NoError(t, err)
	defer r.close()

	require.True(t, r.Push(packHeader(headerSendUnexpected, 0, 1, 1)))
	require.True(t, r.Push(packHeader(headerSendUnexpected, 1, 1, 1)))
	require.False(t, r.Push(packHeader(headerSendUnexpected, 2, 1, 1)))

	_, ok := r.Pop()
	require.True(t, ok)
	require.True(t, r.Push(packHeader(headerSendUnexpected, 2, 1, 1)))
}

func TestShmRingPushZeroHeaderPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	r, err := newShmRingOwner(path, 2)
	require.NoError(t, err)
	defer r.close()

	require.Panics(t, func() { r.Push(0) })
}

func TestShmRingOpenFromOwnerSharesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	owner, err := newShmRingOwner(path, 4)
	require.NoError(t, err)
	defer owner.close()
	require.True(t, owner.Push(packHeader(headerSendUnexpected, 3, 99, 7)))

	peer, err := openShmRing(path, 4)
	require.NoError(t, err)
	defer peer.close()

	h, ok := peer.Pop()
	require.True(t, ok)
	_, slotIdx, bufSize, tag := unpackHeader(h)
	require.Equal(t, uint8(3), slotIdx)
	require.Equal(t, uint16(99), bufSize)
	require.Equal(t, uint32(7), tag)
}

func TestNewShmRingOwnerRejectsNonPowerOfTwo(t *testing.T) {
	_, err := newShmRingOwner(filepath.Join(t.TempDir(), "ring"), 3)
	require.Error(t, err)
}
