package sm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/api"
)

// pump drains both engines' Progress/Trigger until cond reports done or the
// deadline passes.
func pump(t *testing.T, timeout time.Duration, engines []*SmEngine, ctxs []api.Context, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for i, e := range engines {
			_, _ = e.Progress(ctxs[i], 20)
			_, _ = ctxs[i].Trigger(20, 16)
		}
		if cond() {
			return
		}
	}
	t.Fatal("condition not met before deadline")
}

func TestEngineLookupMsgSendRecvUnexpectedRoundTrip(t *testing.T) {
	cfg := testSMConfig(t)
	server, err := NewSmEngine(cfg, true, 0)
	require.NoError(t, err)
	defer server.Finalize()
	client, err := NewSmEngine(cfg, false, 0)
	require.NoError(t, err)
	defer client.Finalize()

	serverCtx, err := server.NewContext()
	require.NoError(t, err)
	clientCtx, err := client.NewContext()
	require.NoError(t, err)

	self, ok := server.AddrSelf().(*SmAddr)
	require.True(t, ok)

	var serverAddr api.Addr
	_, err = client.Lookup(clientCtx, self.HostID(), func(c *api.Completion) {
		require.NoError(t, c.Result)
		serverAddr = c.Source
	})
	require.NoError(t, err)
	_, err = clientCtx.Trigger(0, 1)
	require.NoError(t, err)
	require.NotNil(t, serverAddr)

	payload := []byte("hello from client")
	var clientAddrOnServer api.Addr
	recvBuf := make([]byte, 64)
	recvDone := false
	_, err = server.MsgRecvUnexpected(serverCtx, recvBuf, func(c *api.Completion) {
		require.NoError(t, c.Result)
		clientAddrOnServer = c.Source
		require.Equal(t, string(payload), string(c.Buf[:c.ActualBufSize]))
		recvDone = true
	})
	require.NoError(t, err)

	_, err = client.MsgSendUnexpected(clientCtx, serverAddr, 7, payload, nil)
	require.NoError(t, err)

	pump(t, 3*time.Second, []*SmEngine{server, client}, []api.Context{serverCtx, clientCtx}, func() bool { return recvDone })
	require.NotNil(t, clientAddrOnServer)

	echo := []byte("hi back")
	_, err = server.MsgSendUnexpected(serverCtx, clientAddrOnServer, 7, echo, nil)
	require.NoError(t, err)

	echoBuf := make([]byte, 64)
	echoDone := false
	_, err = client.MsgRecvUnexpected(clientCtx, echoBuf, func(c *api.Completion) {
		require.NoError(t, c.Result)
		require.Equal(t, string(echo), string(c.Buf[:c.ActualBufSize]))
		echoDone = true
	})
	require.NoError(t, err)

	pump(t, 3*time.Second, []*SmEngine{server, client}, []api.Context{serverCtx, clientCtx}, func() bool { return echoDone })
}

func TestEngineMsgRecvExpectedMatchesPostedSendByTag(t *testing.T) {
	cfg := testSMConfig(t)
	server, err := NewSmEngine(cfg, true, 0)
	require.NoError(t, err)
	defer server.Finalize()
	client, err := NewSmEngine(cfg, false, 0)
	require.NoError(t, err)
	defer client.Finalize()

	serverCtx, err := server.NewContext()
	require.NoError(t, err)
	clientCtx, err := client.NewContext()
	require.NoError(t, err)

	self := server.AddrSelf().(*SmAddr)
	var serverAddr api.Addr
	_, err = client.Lookup(clientCtx, self.HostID(), func(c *api.Completion) { serverAddr = c.Source })
	require.NoError(t, err)
	_, err = clientCtx.Trigger(0, 1)
	require.NoError(t, err)

	// Bootstrap with an unexpected exchange so the server learns the
	// client's address, then have the server post MsgRecvExpected BEFORE the
	// client's expected send: an expected header that arrives with no
	// matching receive waiting tears the connection down.
	var clientAddrOnServer api.Addr
	recvDone := false
	_, err = server.MsgRecvUnexpected(serverCtx, make([]byte, 8), func(c *api.Completion) {
		clientAddrOnServer = c.Source
		recvDone = true
	})
	require.NoError(t, err)
	_, err = client.MsgSendUnexpected(clientCtx, serverAddr, 1, []byte("bootstrap"), nil)
	require.NoError(t, err)
	pump(t, 3*time.Second, []*SmEngine{server, client}, []api.Context{serverCtx, clientCtx}, func() bool { return recvDone })
	require.NotNil(t, clientAddrOnServer)

	const tag uint32 = 55
	expectedBuf := make([]byte, 16)
	expectedDone := false
	_, err = server.MsgRecvExpected(serverCtx, clientAddrOnServer, tag, expectedBuf, func(c *api.Completion) {
		require.NoError(t, c.Result)
		require.Equal(t, "tagged", string(c.Buf[:c.ActualBufSize]))
		expectedDone = true
	})
	require.NoError(t, err)

	_, err = client.MsgSendExpected(clientCtx, serverAddr, tag, []byte("tagged"), nil)
	require.NoError(t, err)

	pump(t, 3*time.Second, []*SmEngine{server, client}, []api.Context{serverCtx, clientCtx}, func() bool { return expectedDone })
}

func TestEngineMsgRecvExpectedCancelRemovesFromWaitQueue(t *testing.T) {
	cfg := testSMConfig(t)
	server, err := NewSmEngine(cfg, true, 0)
	require.NoError(t, err)
	defer server.Finalize()
	client, err := NewSmEngine(cfg, false, 0)
	require.NoError(t, err)
	defer client.Finalize()

	serverCtx, err := server.NewContext()
	require.NoError(t, err)
	clientCtx, err := client.NewContext()
	require.NoError(t, err)

	self := server.AddrSelf().(*SmAddr)
	var serverAddr api.Addr
	_, err = client.Lookup(clientCtx, self.HostID(), func(c *api.Completion) { serverAddr = c.Source })
	require.NoError(t, err)
	_, err = clientCtx.Trigger(0, 1)
	require.NoError(t, err)

	var clientAddrOnServer api.Addr
	bootstrapDone := false
	_, err = server.MsgRecvUnexpected(serverCtx, make([]byte, 8), func(c *api.Completion) {
		clientAddrOnServer = c.Source
		bootstrapDone = true
	})
	require.NoError(t, err)
	_, err = client.MsgSendUnexpected(clientCtx, serverAddr, 1, []byte("hi"), nil)
	require.NoError(t, err)
	pump(t, 3*time.Second, []*SmEngine{server, client}, []api.Context{serverCtx, clientCtx}, func() bool { return bootstrapDone })

	var canceledResult error
	var gotCompletion bool
	op, err := server.MsgRecvExpected(serverCtx, clientAddrOnServer, 99, make([]byte, 8), func(c *api.Completion) {
		gotCompletion = true
		canceledResult = c.Result
	})
	require.NoError(t, err)
	require.True(t, op.IsQueued())

	require.NoError(t, serverCtx.Cancel(op))
	_, err = serverCtx.Trigger(0, 1)
	require.NoError(t, err)

	require.True(t, gotCompletion)
	require.ErrorIs(t, canceledResult, api.ErrCanceled)
	require.False(t, op.IsQueued())
}

func TestEngineMsgSendUnexpectedNoRetryFailsImmediatelyWhenRingFull(t *testing.T) {
	cfg := testSMConfig(t)
	cfg.NumBufs = 8 // more copy slots than ring cells, so the ring fills first

	server, err := NewSmEngine(cfg, true, 0)
	require.NoError(t, err)
	defer server.Finalize()
	client, err := NewSmEngine(cfg, false, api.ProgressNoRetry)
	require.NoError(t, err)
	defer client.Finalize()

	clientCtx, err := client.NewContext()
	require.NoError(t, err)

	self := server.AddrSelf().(*SmAddr)
	var serverAddr api.Addr
	_, err = client.Lookup(clientCtx, self.HostID(), func(c *api.Completion) { serverAddr = c.Source })
	require.NoError(t, err)
	_, err = clientCtx.Trigger(0, 1)
	require.NoError(t, err)
	require.NotNil(t, serverAddr)

	// Fill the ring (capacity 4) without the server ever draining it via
	// Progress, so the fifth send finds it full.
	for i := 0; i < cfg.ShmRingCapacity; i++ {
		_, err := client.MsgSendUnexpected(clientCtx, serverAddr, uint32(i), []byte("x"), nil)
		require.NoError(t, err)
	}

	_, err = client.MsgSendUnexpected(clientCtx, serverAddr, 99, []byte("x"), nil)
	require.Error(t, err)
	require.Equal(t, api.ErrCodeAgain, api.CodeOf(err))
}

func TestEngineMetricsDebugAndConfigReflectState(t *testing.T) {
	cfg := testSMConfig(t)
	server, err := NewSmEngine(cfg, true, 0)
	require.NoError(t, err)
	defer server.Finalize()
	ctx, err := server.NewContext()
	require.NoError(t, err)

	debugState := server.DebugState()
	require.Equal(t, true, debugState["sm.listen"])
	require.Equal(t, 0, debugState["sm.conns"])

	snapshot := server.Config()
	require.Equal(t, cfg.NumBufs, snapshot["num_bufs"])
	require.Equal(t, cfg.AffinityCPU, snapshot["affinity_cpu"])

	_, err = server.Progress(ctx, 20)
	require.NoError(t, err)
	metrics := server.Metrics()
	require.Equal(t, 0, metrics["sm.conns"])
	require.Equal(t, 0, metrics["sm.retry_pending"])

	server.ApplyConfig(map[string]any{"num_bufs": 128})
	require.Equal(t, 128, server.Config()["num_bufs"])
}
