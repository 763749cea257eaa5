package completion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/api"
)

func TestTriggerDeliversFastPath(t *testing.T) {
	ctx := New(8, false)
	var got int
	ctx.Add(&api.Completion{Kind: api.KindLookup, Callback: func(c *api.Completion) { got++ }})
	n, err := ctx.Trigger(0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, got)
}

func TestTriggerTimesOutWhenEmpty(t *testing.T) {
	ctx := New(8, false)
	n, err := ctx.Trigger(10, 10)
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.True(t, ctx.TryWaitEmpty())
}

// TestNoLostCompletionUnderOverflow is spec.md §8 property 5: pushing
// K > 1024 completions faster than Trigger consumes them must deliver
// exactly K, FIFO within each of the fast and overflow paths.
func TestNoLostCompletionUnderOverflow(t *testing.T) {
	ctx := New(1024, false)
	const k = 5000
	var order []int
	var mu sync.Mutex
	for i := 0; i < k; i++ {
		i := i
		ctx.Add(&api.Completion{Kind: api.KindLookup, Callback: func(c *api.Completion) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}})
	}
	total := 0
	for total < k {
		n, err := ctx.Trigger(100, k)
		require.NoError(t, err)
		total += n
	}
	require.Equal(t, k, total)
	require.Len(t, order, k)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestCancelBeforeArrivalYieldsCanceledCompletion(t *testing.T) {
	ctx := New(8, false)
	op := api.NewOpID()
	require.True(t, op.TryAcquire())
	op.BeginPost()
	op.MarkQueued()
	var result error
	op.OnCancel = func(o *api.OpID) {
		o.Complete()
		ctx.Add(&api.Completion{Op: o, Kind: api.KindRecvUnexpected, Result: api.ErrCanceled, Callback: func(c *api.Completion) { result = c.Result }})
	}

	require.NoError(t, ctx.Cancel(op))

	n, err := ctx.Trigger(0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.ErrorIs(t, result, api.ErrCanceled)
}

func TestGateMutualExclusion(t *testing.T) {
	g := NewGate()
	require.NoError(t, g.Enter(100))
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Enter(20)
	}()
	err := <-errCh
	require.Error(t, err, "second Enter must time out while the first holds the lock")
	g.Exit()
}
