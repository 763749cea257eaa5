// File: sm/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection establishment (spec.md §4.10): a UNIX-domain socket listener
// accepts connectors, then both sides exchange the shared-memory arena and
// ring-buffer descriptors over SCM_RIGHTS ancillary messages so each process
// maps the *same* physical pages/ring cells the other side created. Error
// style (fmt.Errorf wrapping, explicit fd cleanup on the failure path) is
// grounded on the teacher's internal/transport/transport_linux.go; the
// SCM_RIGHTS exchange itself uses net.UnixConn.ReadMsgUnix/WriteMsgUnix, the
// stdlib-native counterpart to the raw unix.Sendmsg/Recvmsg the teacher's
// websocket_listener.go reaches for when it needs ancillary data.

package sm

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/affinity"
	"github.com/momentics/na-sm/api"
	"github.com/momentics/na-sm/control"
	"github.com/momentics/na-sm/internal/logging"
)

// smConn is one established SM connection: a control-plane UNIX socket plus
// the two shared-memory rings (tx = this process writes, rx = this process
// reads) and their notifiers.
type smConn struct {
	ctrl *net.UnixConn

	arena *Arena

	tx       *ShmRing
	rx       *ShmRing
	txNotify notifier
	rxNotify notifier
}

// onAcceptFunc receives the established connection and the peer's announced
// identity (spec.md §6 addressing: pid+instance).
type onAcceptFunc func(c *smConn, peerPID, peerInstance int)

// listenSM creates the rendezvous UNIX socket and accepts connections,
// dispatching each handshake onto the worker pool (SPEC_FULL.md §4.16) so a
// slow peer cannot stall subsequent accepts.
func listenSM(cfg control.SMConfig, pid, instance int, onAccept onAcceptFunc) (*net.UnixListener, error) {
	path := sockPath(cfg, pid, instance)
	if err := os.MkdirAll(instanceDir(cfg, pid, instance), 0700); err != nil {
		return nil, api.NewError(api.ErrCodeFault, "mkdir instance dir: "+err.Error())
	}
	_ = os.Remove(path)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, api.NewError(api.ErrCodeProtocolError, "listen unix: "+err.Error())
	}

	go acceptLoop(cfg, ln, pid, instance, onAccept)
	return ln, nil
}

func acceptLoop(cfg control.SMConfig, ln *net.UnixListener, pid, instance int, onAccept onAcceptFunc) {
	if cfg.AffinityCPU >= 0 {
		runtime.LockOSThread()
		if err := affinity.PinCurrentThread(cfg.AffinityCPU); err != nil {
			logging.Component("sm.conn").WithField("cpu", cfg.AffinityCPU).WithField("err", err).Warn("accept loop affinity pin failed")
		}
	}
	connSeq := 0
	for {
		_ = ln.SetDeadline(time.Now().Add(cfg.AcceptInterval))
		c, err := ln.AcceptUnix()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		connSeq++
		n := connSeq
		dispatch(func() {
			conn, peerPID, peerInstance, err := acceptHandshake(cfg, c, pid, instance, n)
			if err != nil {
				_ = c.Close()
				return
			}
			onAccept(conn, peerPID, peerInstance)
		})
	}
}

// dialSM connects to a listener's rendezvous socket and performs the
// connector side of the handshake, announcing (ownPID, ownInstance) as this
// process's identity.
func dialSM(cfg control.SMConfig, pid, instance, connSeq, ownPID, ownInstance int) (*smConn, error) {
	path := sockPath(cfg, pid, instance)
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, api.NewError(api.ErrCodeProtocolError, "dial unix: "+err.Error())
	}
	conn, err := connectHandshake(cfg, c, pid, instance, connSeq, ownPID, ownInstance)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return conn, nil
}

// acceptHandshake runs on the listener side: it owns (creates) the arena on
// the first connection and always owns the per-connection rings, hands
// their fds to the connector over SCM_RIGHTS, then reads back the
// connector's announced identity.
func acceptHandshake(cfg control.SMConfig, c *net.UnixConn, pid, instance, connSeq int) (conn *smConn, peerPID, peerInstance int, err error) {
	arenaPath := shmPath(cfg, arenaShmName(cfg, pid, instance))
	arena, err := newArenaOwner(arenaPath, cfg.NumBufs, cfg.CopySize)
	if err != nil {
		return nil, 0, 0, err
	}

	txPath := shmPath(cfg, ringShmName(cfg, pid, instance, connSeq, 's'))
	rxPath := shmPath(cfg, ringShmName(cfg, pid, instance, connSeq, 'r'))
	tx, err := newShmRingOwner(txPath, cfg.ShmRingCapacity)
	if err != nil {
		arena.close()
		return nil, 0, 0, err
	}
	rx, err := newShmRingOwner(rxPath, cfg.ShmRingCapacity)
	if err != nil {
		arena.close()
		tx.close()
		return nil, 0, 0, err
	}

	// The listener creates both notifiers and hands them to the connector
	// over the same SCM_RIGHTS message as the arena/ring fds (spec.md §4.10
	// point 3): an eventfd has no filesystem rendezvous, so two processes
	// calling newNotifier independently would each get an unrelated kernel
	// object and neither side's Set would ever wake the other's Poll.
	txNotify, err := newNotifier(fifoPath(cfg, pid, instance, connSeq, 's'), true)
	if err != nil {
		arena.close()
		tx.close()
		rx.close()
		return nil, 0, 0, err
	}
	rxNotify, err := newNotifier(fifoPath(cfg, pid, instance, connSeq, 'r'), true)
	if err != nil {
		arena.close()
		tx.close()
		rx.close()
		_ = txNotify.Close()
		return nil, 0, 0, err
	}

	txNotifyFile, err := dupNotifierFile(txNotify, "sm-notify-s")
	if err != nil {
		arena.close()
		tx.close()
		rx.close()
		_ = txNotify.Close()
		_ = rxNotify.Close()
		return nil, 0, 0, err
	}
	rxNotifyFile, err := dupNotifierFile(rxNotify, "sm-notify-r")
	if err != nil {
		arena.close()
		tx.close()
		rx.close()
		_ = txNotify.Close()
		_ = rxNotify.Close()
		_ = txNotifyFile.Close()
		return nil, 0, 0, err
	}

	sendErr := sendFDs(c, arena.region.file, tx.region.file, rx.region.file, txNotifyFile, rxNotifyFile)
	_ = txNotifyFile.Close()
	_ = rxNotifyFile.Close()
	if sendErr != nil {
		arena.close()
		tx.close()
		rx.close()
		_ = txNotify.Close()
		_ = rxNotify.Close()
		return nil, 0, 0, sendErr
	}

	peerPID, peerInstance, err = recvIdentity(c)
	if err != nil {
		arena.close()
		tx.close()
		rx.close()
		_ = txNotify.Close()
		_ = rxNotify.Close()
		return nil, 0, 0, err
	}

	return &smConn{ctrl: c, arena: arena, tx: tx, rx: rx, txNotify: txNotify, rxNotify: rxNotify}, peerPID, peerInstance, nil
}

// dupNotifierFile duplicates a notifier's fd into a fresh *os.File so it can
// be handed to sendFDs and closed independently of the original: closing the
// dup never affects the notifier that stays live in this process.
func dupNotifierFile(n notifier, name string) (*os.File, error) {
	dupFd, err := unix.Dup(n.Fd())
	if err != nil {
		return nil, api.NewError(api.ErrCodeFault, "dup notifier fd: "+err.Error())
	}
	return os.NewFile(uintptr(dupFd), name), nil
}

// connectHandshake runs on the connector side: it receives the arena/ring
// fds the listener created, maps them read/write into its own address
// space, then announces its own identity. Note the tx/rx sense is swapped
// relative to the listener: what the listener calls its send ring is this
// side's receive ring.
func connectHandshake(cfg control.SMConfig, c *net.UnixConn, pid, instance, connSeq, ownPID, ownInstance int) (*smConn, error) {
	files, err := recvFDs(c, 5)
	if err != nil {
		return nil, err
	}

	arena, err := openArenaFromFile(files[0], cfg.NumBufs, cfg.CopySize)
	if err != nil {
		return nil, err
	}
	peerTx, err := openShmRingFromFile(files[1], cfg.ShmRingCapacity)
	if err != nil {
		arena.close()
		return nil, err
	}
	peerRx, err := openShmRingFromFile(files[2], cfg.ShmRingCapacity)
	if err != nil {
		arena.close()
		peerTx.close()
		return nil, err
	}

	// files[3] is the listener's 's'-ring notifier (its txNotify), files[4]
	// is the listener's 'r'-ring notifier (its rxNotify). The notifier
	// pairing swaps sense exactly like the rings do: this side's rxNotify
	// must be the listener's txNotify (the object the listener Sets after
	// writing the 's' ring, which this side reads as rx), and this side's
	// txNotify must be the listener's rxNotify.
	rxNotify := newNotifierFromFd(files[3])
	txNotify := newNotifierFromFd(files[4])

	if err := sendIdentity(c, ownPID, ownInstance); err != nil {
		arena.close()
		peerTx.close()
		peerRx.close()
		_ = txNotify.Close()
		_ = rxNotify.Close()
		return nil, err
	}

	return &smConn{ctrl: c, arena: arena, tx: peerRx, rx: peerTx, txNotify: txNotify, rxNotify: rxNotify}, nil
}

// sendFDs transmits fds as a single SCM_RIGHTS ancillary message alongside a
// one-byte payload.
func sendFDs(c *net.UnixConn, files ...*os.File) error {
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f.Fd())
	}
	oob := unix.UnixRights(fds...)
	_, _, err := c.WriteMsgUnix([]byte{0}, oob, nil)
	if err != nil {
		return api.NewError(api.ErrCodeProtocolError, fmt.Sprintf("send fds: %v", err))
	}
	return nil
}

// recvFDs blocks for a single SCM_RIGHTS message carrying exactly n fds and
// returns them as *os.File.
func recvFDs(c *net.UnixConn, n int) ([]*os.File, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(n*4))
	_, oobn, _, _, err := c.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, api.NewError(api.ErrCodeProtocolError, fmt.Sprintf("recv fds: %v", err))
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) == 0 {
		return nil, api.NewError(api.ErrCodeProtocolError, "parse control message")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) != n {
		return nil, api.NewError(api.ErrCodeProtocolError, "parse unix rights")
	}
	out := make([]*os.File, n)
	for i, fd := range fds {
		out[i] = os.NewFile(uintptr(fd), fmt.Sprintf("sm-fd-%d", i))
	}
	return out, nil
}

// sendIdentity writes the connector's (pid, instance) as two little-endian
// uint64s, letting the listener bind an SmAddr to the connector's real
// identity rather than its own (spec.md §6 addressing).
func sendIdentity(c *net.UnixConn, pid, instance int) error {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pid))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(instance))
	if _, err := c.Write(buf[:]); err != nil {
		return api.NewError(api.ErrCodeProtocolError, "send identity: "+err.Error())
	}
	return nil
}

func recvIdentity(c *net.UnixConn) (pid, instance int, err error) {
	var buf [16]byte
	if _, err := io.ReadFull(c, buf[:]); err != nil {
		return 0, 0, api.NewError(api.ErrCodeProtocolError, "recv identity: "+err.Error())
	}
	pid = int(binary.LittleEndian.Uint64(buf[0:8]))
	instance = int(binary.LittleEndian.Uint64(buf[8:16]))
	return pid, instance, nil
}

func (c *smConn) close() {
	if c == nil {
		return
	}
	_ = c.ctrl.Close()
	c.arena.close()
	c.tx.close()
	c.rx.close()
	_ = c.txNotify.Close()
	_ = c.rxNotify.Close()
}
