package sm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/na-sm/control"
)

func testSMConfig(t *testing.T) control.SMConfig {
	cfg := control.DefaultSMConfig()
	cfg.TmpDir = t.TempDir()
	cfg.ShmDir = t.TempDir()
	cfg.NumBufs = 4
	cfg.CopySize = 64
	cfg.ShmRingCapacity = 4
	cfg.AcceptInterval = 20 * time.Millisecond
	return cfg
}

func TestConnectHandshakeEstablishesSharedRings(t *testing.T) {
	cfg := testSMConfig(t)
	const listenerPID, listenerInstance = 1001, 1
	const connectorPID, connectorInstance = 1002, 2

	accepted := make(chan struct {
		conn         *smConn
		peerPID      int
		peerInstance int
	}, 1)
	_, err := listenSM(cfg, listenerPID, listenerInstance, func(c *smConn, peerPID, peerInstance int) {
		accepted <- struct {
			conn         *smConn
			peerPID      int
			peerInstance int
		}{c, peerPID, peerInstance}
	})
	require.NoError(t, err)

	connectorConn, err := dialSM(cfg, listenerPID, listenerInstance, 1, connectorPID, connectorInstance)
	require.NoError(t, err)
	defer connectorConn.close()

	select {
	case got := <-accepted:
		defer got.conn.close()
		require.Equal(t, connectorPID, got.peerPID)
		require.Equal(t, connectorInstance, got.peerInstance)

		// What the listener calls tx must land where the connector calls rx,
		// and vice versa, since the handshake swaps the sense for the dialer.
		require.True(t, got.conn.tx.Push(packHeader(headerSendUnexpected, 0, 3, 42)))
		h, ok := connectorConn.rx.Pop()
		require.True(t, ok)
		_, _, _, tag := unpackHeader(h)
		require.Equal(t, uint32(42), tag)

		require.True(t, connectorConn.tx.Push(packHeader(headerSendUnexpected, 1, 3, 99)))
		h, ok = got.conn.rx.Pop()
		require.True(t, ok)
		_, _, _, tag = unpackHeader(h)
		require.Equal(t, uint32(99), tag)

		idx, ok := got.conn.arena.Reserve()
		require.True(t, ok)
		got.conn.arena.CopyIn(idx, []byte("shared"))
		dst := make([]byte, len("shared"))
		connectorConn.arena.CopyOut(idx, dst, len(dst))
		require.Equal(t, "shared", string(dst))
	case <-time.After(3 * time.Second):
		t.Fatal("accept handshake did not complete in time")
	}
}
