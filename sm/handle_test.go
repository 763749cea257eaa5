package sm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/api"
)

func twoSegHandle(flags api.AccessFlags) api.MemHandle {
	return api.MemHandle{
		Segments: []api.Segment{
			{Base: 0x1000, Length: 16},
			{Base: 0x2000, Length: 32},
		},
		Flags:  flags,
		Length: 48,
	}
}

func TestResolveOffsetWithinFirstSegment(t *testing.T) {
	h := twoSegHandle(api.AccessReadOnly)
	addr, avail, err := resolveOffset(h, 4)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x1004), addr)
	require.Equal(t, uint64(12), avail)
}

func TestResolveOffsetWithinSecondSegment(t *testing.T) {
	h := twoSegHandle(api.AccessReadOnly)
	addr, avail, err := resolveOffset(h, 20)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x2000+4), addr)
	require.Equal(t, uint64(28), avail)
}

func TestResolveOffsetBeyondLengthFails(t *testing.T) {
	h := twoSegHandle(api.AccessReadOnly)
	_, _, err := resolveOffset(h, 48)
	require.Error(t, err)
}

func TestBoundsCheck(t *testing.T) {
	h := twoSegHandle(api.AccessReadOnly)
	require.NoError(t, boundsCheck(h, 0, 48))
	require.Error(t, boundsCheck(h, 1, 48))
	require.Error(t, boundsCheck(h, 0, 49))
}

func TestValidateAccessPutRequiresWrite(t *testing.T) {
	ro := twoSegHandle(api.AccessReadOnly)
	require.Error(t, validateAccess(api.KindPut, ro))

	rw := twoSegHandle(api.AccessReadWrite)
	require.NoError(t, validateAccess(api.KindPut, rw))
}

func TestValidateAccessGetRequiresRead(t *testing.T) {
	wo := twoSegHandle(api.AccessWriteOnly)
	require.Error(t, validateAccess(api.KindGet, wo))

	rw := twoSegHandle(api.AccessReadWrite)
	require.NoError(t, validateAccess(api.KindGet, rw))
}
