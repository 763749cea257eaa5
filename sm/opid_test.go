package sm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/api"
)

func TestOpIDPoolGetStartsAcquirable(t *testing.T) {
	p := newOpIDPool()
	op := p.Get()
	require.True(t, op.TryAcquire())
}

func TestOpIDPoolPutResetsStaleState(t *testing.T) {
	p := newOpIDPool()
	op := p.Get()
	require.True(t, op.TryAcquire())
	op.BeginPost()
	op.Buf = []byte("stale")
	op.Callback = func(*api.Completion) { t.Fatal("stale callback must not survive reuse") }
	op.Complete()
	p.Put(op)

	reused := p.Get()
	require.Nil(t, reused.Buf)
	require.Nil(t, reused.Callback)
	require.True(t, reused.TryAcquire())
}
