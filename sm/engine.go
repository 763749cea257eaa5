// File: sm/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SmEngine implements api.Engine over the shared-memory ring/arena transport
// (spec.md §4.11): tag-matched two-sided send/recv plus one-sided Put/Get,
// dispatch driven entirely from Progress so the caller controls when work
// happens. Grounded on the teacher's internal/transport/transport.go
// dispatch shape (one struct per bound class, operations return early on a
// closed/torn-down engine) and core/concurrency/eventloop.go's callback
// invocation discipline, generalized from socket I/O to ring/arena I/O.

package sm

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/google/uuid"

	"github.com/momentics/na-sm/api"
	"github.com/momentics/na-sm/control"
	"github.com/momentics/na-sm/core/completion"
	"github.com/momentics/na-sm/core/list"
	"github.com/momentics/na-sm/internal/logging"
)

// pendingMsg is one unmatched header, arena slot, and payload size awaiting
// a matching MsgRecv* call.
type pendingMsg struct {
	slotIdx uint8
	size    uint16
	tag     uint32
}

// connState is the per-connection matching state: pending (unmatched)
// inbound headers and ops blocked waiting for a match, per spec.md §4.11.
type connState struct {
	mu sync.Mutex

	conn *smConn
	addr *SmAddr

	pendingUnexpected *list.List[pendingMsg]
	waitingUnexpected *list.List[*api.OpID]

	pendingExpected map[uint32]*list.List[pendingMsg]
	waitingExpected map[uint32]*list.List[*api.OpID]
}

func newConnState(conn *smConn, addr *SmAddr) *connState {
	return &connState{
		conn:              conn,
		addr:              addr,
		pendingUnexpected: list.New[pendingMsg](),
		waitingUnexpected: list.New[*api.OpID](),
		pendingExpected:   make(map[uint32]*list.List[pendingMsg]),
		waitingExpected:   make(map[uint32]*list.List[*api.OpID]),
	}
}

func (cs *connState) expectedPending(tag uint32) *list.List[pendingMsg] {
	l, ok := cs.pendingExpected[tag]
	if !ok {
		l = list.New[pendingMsg]()
		cs.pendingExpected[tag] = l
	}
	return l
}

// peerPID is the remote process id this connection's address was bound to,
// the target for process_vm_readv/writev (spec.md §4.13).
func (cs *connState) peerPID() int { return cs.addr.pid }

func (cs *connState) expectedWaiting(tag uint32) *list.List[*api.OpID] {
	l, ok := cs.waitingExpected[tag]
	if !ok {
		l = list.New[*api.OpID]()
		cs.waitingExpected[tag] = l
	}
	return l
}

// retryEntry is a header that could not be pushed because its ring was full.
type retryEntry struct {
	cs  *connState
	hdr uint64
	op  *api.OpID
}

// SmEngine is the api.Engine implementation for the shared-memory class.
type SmEngine struct {
	cfg      control.SMConfig
	pid      int
	instance int
	listen   bool

	registry *addrRegistry
	opPool   *opIDPool
	pset     pollSet
	progress api.ProgressMode

	self *SmAddr

	connsMu sync.Mutex
	conns   map[string]*connState // keyed by addr id

	retryMu sync.Mutex
	retry   *list.List[retryEntry]

	unexpectedMu      sync.Mutex
	unexpectedWaiting *list.List[*api.OpID]

	dialSeq int

	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	config  *control.ConfigStore
}

var _ api.Engine = (*SmEngine)(nil)

// NewSmEngine constructs and, if listen is true, starts accepting
// connections on the instance's rendezvous socket (spec.md §4.10).
func NewSmEngine(cfg control.SMConfig, listen bool, progress api.ProgressMode) (*SmEngine, error) {
	pid := os.Getpid()
	instance := int(uuid.New().ID())

	reg := newAddrRegistry(16)
	pset, err := newPollSet(256)
	if err != nil {
		return nil, err
	}

	e := &SmEngine{
		cfg:      cfg,
		pid:      pid,
		instance: instance,
		listen:   listen,
		registry: reg,
		opPool:   newOpIDPool(),
		pset:     pset,
		progress: progress,
		conns:             make(map[string]*connState),
		retry:             list.New[retryEntry](),
		unexpectedWaiting: list.New[*api.OpID](),
		metrics:           control.NewMetricsRegistry(),
		debug:             control.NewDebugProbes(),
		config:            control.NewConfigStore(),
	}
	e.self = reg.newAddr(pid, instance, nil)
	e.debug.RegisterProbe("sm.conns", func() any {
		e.connsMu.Lock()
		defer e.connsMu.Unlock()
		return len(e.conns)
	})
	e.debug.RegisterProbe("sm.listen", func() any { return e.listen })
	control.RegisterPlatformProbes(e.debug)
	e.config.SetConfig(map[string]any{
		"accept_interval": cfg.AcceptInterval,
		"num_bufs":        cfg.NumBufs,
		"copy_size":       cfg.CopySize,
		"affinity_cpu":    cfg.AffinityCPU,
	})
	e.config.OnReload(func() {
		numBufs, _ := e.config.Get("num_bufs")
		logging.Component("sm.engine").WithField("num_bufs", numBufs).WithField("config", e.config.GetSnapshot()).Debug("config reloaded")
	})

	if listen {
		if _, err := listenSM(cfg, pid, instance, func(c *smConn, peerPID, peerInstance int) {
			addr := reg.newAddr(peerPID, peerInstance, c)
			reg.pushAccepted(addr)
		}); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *SmEngine) Protocol() string { return "sm" }
func (e *SmEngine) Listen() bool     { return e.listen }
func (e *SmEngine) AddrSelf() api.Addr { return e.self }

// PollTryWait implements api.Engine.PollTryWait (spec.md §8 property 7): true
// only when ctx has no pending completions on either path AND no connection
// this engine owns still has an unread header sitting in its receive ring.
func (e *SmEngine) PollTryWait(ctx api.Context) bool {
	if !ctx.TryWaitEmpty() {
		return false
	}
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	for _, cs := range e.conns {
		if cs.conn.rx.Peek() {
			return false
		}
	}
	return true
}

// Metrics returns a point-in-time snapshot of this engine's runtime counters
// ("sm.conns", "sm.retry_pending"), refreshed on every Progress call.
func (e *SmEngine) Metrics() map[string]any { return e.metrics.GetSnapshot() }

// DebugState returns the output of every registered debug probe.
func (e *SmEngine) DebugState() map[string]any { return e.debug.DumpState() }

// Config returns a snapshot of this engine's dynamic tunables, and
// ApplyConfig merges updates into it, triggering any registered reload
// listeners (spec.md §4.15 dynamic key/value overrides).
func (e *SmEngine) Config() map[string]any          { return e.config.GetSnapshot() }
func (e *SmEngine) ApplyConfig(updates map[string]any) { e.config.SetConfig(updates) }

func (e *SmEngine) NewContext() (api.Context, error) {
	return completion.New(e.cfg.FastQueueCapacity, true), nil
}

// parseHostID parses the "<pid>:<instance>" address form Lookup accepts.
func parseHostID(host string) (pid, instance int, err error) {
	parts := strings.SplitN(host, ":", 2)
	if len(parts) != 2 {
		return 0, 0, api.NewError(api.ErrCodeInvalidArg, "host must be \"<pid>:<instance>\"")
	}
	pid, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, api.NewError(api.ErrCodeInvalidArg, "invalid pid: "+err.Error())
	}
	instance, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, api.NewError(api.ErrCodeInvalidArg, "invalid instance: "+err.Error())
	}
	return pid, instance, nil
}

// unsafeBytesAt views length bytes starting at addr as a []byte, for handing
// a local segment's memory to vmRead/vmWrite (spec.md §4.13).
func unsafeBytesAt(addr uintptr, length uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// Lookup actively connects to host (formatted "<pid>:<instance>") and
// delivers the resulting bound Addr via cb (spec.md §4.11).
func (e *SmEngine) Lookup(ctx api.Context, host string, cb api.CompletionCallback) (*api.OpID, error) {
	op := e.opPool.Get()
	op.Kind = api.KindLookup
	op.Ctx = ctx
	op.Callback = cb
	if !op.TryAcquire() {
		e.opPool.Put(op)
		return nil, api.ErrBusy
	}
	op.BeginPost()

	pid, instance, err := parseHostID(host)
	if err != nil {
		op.Complete()
		return nil, err
	}

	e.dialSeq++
	conn, err := dialSM(e.cfg, pid, instance, e.dialSeq, e.pid, e.instance)
	if err != nil {
		op.Complete()
		return nil, err
	}
	addr := e.registry.newAddr(pid, instance, conn)
	e.registerConn(addr, conn)

	op.Complete()
	ctx.Add(&api.Completion{Op: op, Kind: api.KindLookup, Source: addr.Dup(), Release: func(*api.Completion) { addr.Free(); e.opPool.Put(op) }})
	return op, nil
}

func (e *SmEngine) registerConn(addr *SmAddr, conn *smConn) *connState {
	cs := newConnState(conn, addr)
	e.connsMu.Lock()
	e.conns[addr.id] = cs
	e.connsMu.Unlock()
	_ = e.pset.Add(conn.rxNotify.Fd(), func() {
		if err := conn.rxNotify.Clear(); err != nil {
			// A failing notifier fd means the peer process (or its end of
			// the eventfd/FIFO pair) is gone: treat it the same as a
			// protocol-level disconnect (spec.md §4.11).
			e.teardownConn(cs, err)
		}
	})
	return cs
}

// teardownConn removes cs from the live-connection table, cancels every
// operation still bound to it (queued expected-receive waiters and
// in-flight retry-sweep sends), and releases the engine's own reference on
// cs.addr so the refcount-driven close (spec.md §4.9) can run once nothing
// else still holds the address. Safe to call more than once for the same
// cs; the second call is a no-op.
func (e *SmEngine) teardownConn(cs *connState, cause error) {
	e.connsMu.Lock()
	if _, ok := e.conns[cs.addr.id]; !ok {
		e.connsMu.Unlock()
		return
	}
	delete(e.conns, cs.addr.id)
	e.connsMu.Unlock()

	logging.Component("sm.engine").WithField("addr", cs.addr.String()).WithField("cause", cause).Warn("tearing down connection")

	_ = e.pset.Remove(cs.conn.rxNotify.Fd())

	cs.mu.Lock()
	var waiters []*api.OpID
	for _, l := range cs.waitingExpected {
		for {
			op, ok := l.PopFront()
			if !ok {
				break
			}
			waiters = append(waiters, op)
		}
	}
	cs.mu.Unlock()

	for _, op := range waiters {
		op.OnCancel = nil
		op.ClearQueued()
		op.Complete()
		src := op.Addr
		op.Ctx.Add(&api.Completion{Op: op, Kind: op.Kind, Tag: op.Tag, Source: src, Result: api.ErrCanceled, Release: func(c *api.Completion) { c.Source.Free(); e.opPool.Put(op) }})
	}

	e.retryMu.Lock()
	n := e.retry.Len()
	var keep, drop []retryEntry
	for i := 0; i < n; i++ {
		ent, ok := e.retry.PopFront()
		if !ok {
			break
		}
		if ent.cs == cs {
			drop = append(drop, ent)
		} else {
			keep = append(keep, ent)
		}
	}
	for _, ent := range keep {
		e.retry.PushBack(ent)
	}
	e.retryMu.Unlock()

	for _, ent := range drop {
		ent.op.OnCancel = nil
		ent.op.ClearQueued()
		ent.op.Complete()
		ent.op.Ctx.Add(&api.Completion{Op: ent.op, Kind: ent.op.Kind, Tag: ent.op.Tag, Buf: ent.op.Buf, Result: api.ErrCanceled, Release: func(*api.Completion) { ent.op.Addr.Free(); e.opPool.Put(ent.op) }})
	}

	cs.addr.Free()
}

func (e *SmEngine) connStateFor(addr api.Addr) (*connState, error) {
	sa, ok := addr.(*SmAddr)
	if !ok {
		return nil, api.NewError(api.ErrCodeInvalidArg, "addr is not an sm address")
	}
	e.connsMu.Lock()
	cs, ok := e.conns[sa.id]
	e.connsMu.Unlock()
	if !ok {
		return nil, api.NewError(api.ErrCodeInvalidArg, "no live connection for address")
	}
	return cs, nil
}

// postSend reserves a copy slot and either pushes the header immediately or,
// if the ring is full, queues it for the Progress-time retry sweep. queued
// reports which happened; err is non-nil only on an unrecoverable failure
// (bad size, arena exhausted).
func (e *SmEngine) postSend(cs *connState, typ headerType, tag uint32, buf []byte, op *api.OpID) (queued bool, err error) {
	if len(buf) > cs.conn.arena.slotSize {
		return false, api.NewError(api.ErrCodeMsgSize, "message exceeds copy-slot size")
	}
	idx, ok := cs.conn.arena.Reserve()
	if !ok {
		return false, api.ErrNoMem
	}
	cs.conn.arena.CopyIn(idx, buf)
	hdr := packHeader(typ, uint8(idx), uint16(len(buf)), tag)
	if cs.conn.tx.Push(hdr) {
		_ = cs.conn.txNotify.Set()
		return false, nil
	}

	if e.progress.NoRetry() {
		cs.conn.arena.Release(int(idx))
		return false, api.ErrAgain
	}

	op.MarkQueued()
	op.OnCancel = func(canceled *api.OpID) {
		e.retryMu.Lock()
		e.retry.RemoveMatch(func(ent retryEntry) bool { return ent.op == canceled })
		e.retryMu.Unlock()
		cs.conn.arena.Release(int(idx))
		canceled.Complete()
		canceled.Ctx.Add(&api.Completion{Op: canceled, Kind: canceled.Kind, Result: api.ErrCanceled, Release: func(*api.Completion) { canceled.Addr.Free(); e.opPool.Put(canceled) }})
	}
	e.retryMu.Lock()
	e.retry.PushBack(retryEntry{cs: cs, hdr: hdr, op: op})
	e.retryMu.Unlock()
	return true, nil
}

// MsgSendUnexpected posts a send whose matching receive need not already be
// posted (spec.md §4.11).
func (e *SmEngine) MsgSendUnexpected(ctx api.Context, dest api.Addr, tag uint32, buf []byte, cb api.CompletionCallback) (*api.OpID, error) {
	return e.send(ctx, dest, tag, buf, cb, headerSendUnexpected, api.KindSendUnexpected)
}

// MsgSendExpected posts a send whose peer has already posted the matching
// MsgRecvExpected (spec.md §4.11).
func (e *SmEngine) MsgSendExpected(ctx api.Context, dest api.Addr, tag uint32, buf []byte, cb api.CompletionCallback) (*api.OpID, error) {
	return e.send(ctx, dest, tag, buf, cb, headerSendExpected, api.KindSendExpected)
}

func (e *SmEngine) send(ctx api.Context, dest api.Addr, tag uint32, buf []byte, cb api.CompletionCallback, typ headerType, kind api.Kind) (*api.OpID, error) {
	cs, err := e.connStateFor(dest)
	if err != nil {
		return nil, err
	}
	op := e.opPool.Get()
	op.Kind = kind
	op.Ctx = ctx
	op.Callback = cb
	op.Tag = tag
	op.Buf = buf
	if !op.TryAcquire() {
		e.opPool.Put(op)
		return nil, api.ErrBusy
	}
	op.BeginPost()
	// Bind dest to the op-id for its whole in-flight lifetime (spec.md §4.9):
	// freed once in every Release path below, matched to this Dup.
	op.Addr = dest.Dup()

	queued, err := e.postSend(cs, typ, tag, buf, op)
	if err != nil {
		op.Addr.Free()
		op.Complete()
		return nil, err
	}
	if queued {
		// Completed later by the Progress-time retry sweep.
		return op, nil
	}
	op.Complete()
	ctx.Add(&api.Completion{Op: op, Kind: kind, Tag: tag, Buf: buf, Release: func(*api.Completion) { op.Addr.Free(); e.opPool.Put(op) }})
	return op, nil
}

// MsgRecvUnexpected posts a wildcard receive matching the next unmatched
// SendUnexpected on any connection that has one pending.
func (e *SmEngine) MsgRecvUnexpected(ctx api.Context, buf []byte, cb api.CompletionCallback) (*api.OpID, error) {
	op := e.opPool.Get()
	op.Kind = api.KindRecvUnexpected
	op.Ctx = ctx
	op.Callback = cb
	op.Buf = buf
	if !op.TryAcquire() {
		e.opPool.Put(op)
		return nil, api.ErrBusy
	}
	op.BeginPost()

	e.connsMu.Lock()
	var matched *connState
	var msg pendingMsg
	for _, cs := range e.conns {
		cs.mu.Lock()
		if m, ok := cs.pendingUnexpected.PopFront(); ok {
			matched, msg = cs, m
			cs.mu.Unlock()
			break
		}
		cs.mu.Unlock()
	}
	e.connsMu.Unlock()

	if matched == nil {
		// No connection currently holds a pending message; recv-unexpected
		// is wildcard, so it waits on a shared engine-level queue rather
		// than any one connection's.
		op.MarkQueued()
		op.OnCancel = func(canceled *api.OpID) {
			e.unexpectedMu.Lock()
			e.unexpectedWaiting.RemoveMatch(func(o *api.OpID) bool { return o == canceled })
			e.unexpectedMu.Unlock()
			canceled.Complete()
			canceled.Ctx.Add(&api.Completion{Op: canceled, Kind: api.KindRecvUnexpected, Result: api.ErrCanceled, Release: func(*api.Completion) { e.opPool.Put(canceled) }})
		}
		e.unexpectedMu.Lock()
		e.unexpectedWaiting.PushBack(op)
		e.unexpectedMu.Unlock()
		return op, nil
	}

	n := matched.conn.arena.CopyOut(int(msg.slotIdx), buf, int(msg.size))
	matched.conn.arena.Release(int(msg.slotIdx))
	op.Complete()
	// Source is published to the caller's callback, so it gets its own
	// Dup/Free bracket independent of op's own lifetime (spec.md §4.9).
	ctx.Add(&api.Completion{Op: op, Kind: api.KindRecvUnexpected, Source: matched.addr.Dup(), Tag: msg.tag, ActualBufSize: n, Buf: buf, Release: func(c *api.Completion) { c.Source.Free(); e.opPool.Put(op) }})
	return op, nil
}

// MsgRecvExpected posts a receive matching the next SendExpected from
// source with the given tag.
func (e *SmEngine) MsgRecvExpected(ctx api.Context, source api.Addr, tag uint32, buf []byte, cb api.CompletionCallback) (*api.OpID, error) {
	cs, err := e.connStateFor(source)
	if err != nil {
		return nil, err
	}
	op := e.opPool.Get()
	op.Kind = api.KindRecvExpected
	op.Ctx = ctx
	op.Callback = cb
	op.Tag = tag
	op.Buf = buf
	if !op.TryAcquire() {
		e.opPool.Put(op)
		return nil, api.ErrBusy
	}
	op.BeginPost()
	// Bind source to the op-id for its whole in-flight lifetime (spec.md
	// §4.9); freed in every Release path below, matched to this Dup.
	op.Addr = source.Dup()

	cs.mu.Lock()
	pending := cs.expectedPending(tag)
	msg, ok := pending.PopFront()
	if !ok {
		cs.expectedWaiting(tag).PushBack(op)
		op.MarkQueued()
		op.OnCancel = func(canceled *api.OpID) {
			cs.mu.Lock()
			cs.expectedWaiting(tag).RemoveMatch(func(o *api.OpID) bool { return o == canceled })
			cs.mu.Unlock()
			canceled.Complete()
			canceled.Ctx.Add(&api.Completion{Op: canceled, Kind: api.KindRecvExpected, Source: source.Dup(), Tag: tag, Result: api.ErrCanceled, Release: func(c *api.Completion) { c.Source.Free(); canceled.Addr.Free(); e.opPool.Put(canceled) }})
		}
		cs.mu.Unlock()
		return op, nil
	}
	cs.mu.Unlock()

	n := cs.conn.arena.CopyOut(int(msg.slotIdx), buf, int(msg.size))
	cs.conn.arena.Release(int(msg.slotIdx))
	op.Complete()
	ctx.Add(&api.Completion{Op: op, Kind: api.KindRecvExpected, Source: source.Dup(), Tag: tag, ActualBufSize: n, Buf: buf, Release: func(c *api.Completion) { c.Source.Free(); op.Addr.Free(); e.opPool.Put(op) }})
	return op, nil
}

// Put copies length bytes from local into remote on peer's process
// (spec.md §4.12/§4.13). The range must lie inside a single segment of each
// handle; a range that crosses a segment boundary fails with INVALID_ARG.
func (e *SmEngine) Put(ctx api.Context, local api.MemHandle, loff uint64, remote api.MemHandle, roff uint64, length uint64, peer api.Addr, cb api.CompletionCallback) (*api.OpID, error) {
	return e.rdma(ctx, local, loff, remote, roff, length, peer, cb, api.KindPut)
}

// Get copies length bytes from remote on peer's process into local
// (spec.md §4.12/§4.13). As with Put, the range must lie inside a single
// segment of each handle.
func (e *SmEngine) Get(ctx api.Context, local api.MemHandle, loff uint64, remote api.MemHandle, roff uint64, length uint64, peer api.Addr, cb api.CompletionCallback) (*api.OpID, error) {
	return e.rdma(ctx, local, loff, remote, roff, length, peer, cb, api.KindGet)
}

func (e *SmEngine) rdma(ctx api.Context, local api.MemHandle, loff uint64, remote api.MemHandle, roff uint64, length uint64, peer api.Addr, cb api.CompletionCallback, kind api.Kind) (*api.OpID, error) {
	cs, err := e.connStateFor(peer)
	if err != nil {
		return nil, err
	}
	if err := validateAccess(kind, remote); err != nil {
		return nil, err
	}
	if err := boundsCheck(local, loff, length); err != nil {
		return nil, err
	}
	if err := boundsCheck(remote, roff, length); err != nil {
		return nil, err
	}

	op := e.opPool.Get()
	op.Kind = kind
	op.Ctx = ctx
	op.Callback = cb
	op.Local, op.LocalOff = local, loff
	op.Remote, op.RemoteOff = remote, roff
	op.Length = length
	op.PeerForRDMA = peer
	if !op.TryAcquire() {
		e.opPool.Put(op)
		return nil, api.ErrBusy
	}
	op.BeginPost()
	// Bind peer to the op-id for its whole in-flight lifetime (spec.md
	// §4.9); freed in every return path below, matched to this Dup.
	op.Addr = peer.Dup()

	localAddr, avail, err := resolveOffset(local, loff)
	if err != nil || avail < length {
		op.Addr.Free()
		op.Complete()
		if err == nil {
			err = api.ErrInvalidArg
		}
		return nil, err
	}
	remoteAddr, avail, err := resolveOffset(remote, roff)
	if err != nil || avail < length {
		op.Addr.Free()
		op.Complete()
		if err == nil {
			err = api.ErrInvalidArg
		}
		return nil, err
	}

	localBuf := unsafeBytesAt(localAddr, length)
	var xferErr error
	if kind == api.KindPut {
		xferErr = vmWrite(cs.peerPID(), remoteAddr, localBuf, length)
	} else {
		xferErr = vmRead(cs.peerPID(), remoteAddr, localBuf, length)
	}
	op.Complete()
	ctx.Add(&api.Completion{Op: op, Kind: kind, Result: xferErr, Release: func(*api.Completion) { op.Addr.Free(); e.opPool.Put(op) }})
	return op, nil
}

// Progress drains every connection's rx ring, services the accepted-addr
// queue, and retries any previously-full ring pushes (spec.md §4.4/§4.11).
// The whole call runs inside ctx's multi-progress gate, so two goroutines
// sharing ctx never run the blocking poll concurrently.
func (e *SmEngine) Progress(ctx api.Context, timeoutMs int64) (bool, error) {
	if err := ctx.GateEnter(timeoutMs); err != nil {
		return false, err
	}
	defer ctx.GateExit()

	did := false

	for {
		addr, ok := e.registry.popAccepted()
		if !ok {
			break
		}
		e.registerConn(addr, addr.conn)
		did = true
	}

	e.retryMu.Lock()
	pending := e.retry.Len()
	e.retryMu.Unlock()
	for i := 0; i < pending; i++ {
		e.retryMu.Lock()
		ent, ok := e.retry.PopFront()
		e.retryMu.Unlock()
		if !ok {
			break
		}
		if ent.cs.conn.tx.Push(ent.hdr) {
			_ = ent.cs.conn.txNotify.Set()
			did = true
			e.metrics.Add("sm.retries_completed", 1)
			ent.op.ClearQueued()
			ent.op.Complete()
			ent.op.Ctx.Add(&api.Completion{Op: ent.op, Kind: ent.op.Kind, Tag: ent.op.Tag, Buf: ent.op.Buf, Release: func(*api.Completion) { ent.op.Addr.Free(); e.opPool.Put(ent.op) }})
		} else {
			e.retryMu.Lock()
			e.retry.PushBack(ent)
			e.retryMu.Unlock()
		}
	}

	e.connsMu.Lock()
	states := make([]*connState, 0, len(e.conns))
	for _, cs := range e.conns {
		states = append(states, cs)
	}
	e.connsMu.Unlock()

	for _, cs := range states {
		for {
			hdr, ok := cs.conn.rx.Pop()
			if !ok {
				break
			}
			did = true
			e.metrics.Add("sm.headers_dispatched", 1)
			if e.dispatchInbound(cs, hdr) {
				// cs was torn down (protocol violation); its ring mapping
				// may already be gone, so stop draining it.
				break
			}
		}
	}

	e.metrics.Set("sm.conns", len(states))
	e.metrics.Set("sm.retry_pending", pending)

	if !did {
		pollTimeout := timeoutMs
		if e.progress.NoBlock() {
			pollTimeout = 0
		}
		if _, err := e.pset.Poll(pollTimeout); err != nil {
			return false, err
		}
	}
	return did, nil
}

// dispatchInbound applies one inbound ring header: matching it against a
// waiting receive or buffering it for a later one. Returns true if handling
// hdr tore the connection down (a protocol violation), telling the caller
// to stop draining cs's ring since its mapping may already be closed.
func (e *SmEngine) dispatchInbound(cs *connState, hdr uint64) bool {
	typ, slotIdx, size, tag := unpackHeader(hdr)
	msg := pendingMsg{slotIdx: slotIdx, size: size, tag: tag}

	switch typ {
	case headerSendUnexpected:
		e.unexpectedMu.Lock()
		op, ok := e.unexpectedWaiting.PopFront()
		e.unexpectedMu.Unlock()
		if ok {
			n := cs.conn.arena.CopyOut(int(slotIdx), op.Buf, int(size))
			cs.conn.arena.Release(int(slotIdx))
			op.Complete()
			op.Ctx.Add(&api.Completion{Op: op, Kind: api.KindRecvUnexpected, Source: cs.addr.Dup(), Tag: tag, ActualBufSize: n, Buf: op.Buf, Release: func(c *api.Completion) { c.Source.Free(); e.opPool.Put(op) }})
			return false
		}
		cs.mu.Lock()
		cs.pendingUnexpected.PushBack(msg)
		cs.mu.Unlock()
		return false

	case headerSendExpected:
		cs.mu.Lock()
		waiting := cs.expectedWaiting(tag)
		op, ok := waiting.PopFront()
		if !ok {
			cs.mu.Unlock()
			// An expected header requires the matching MsgRecvExpected to
			// already be posted (spec.md §4.11); arriving with nothing
			// waiting means the peer violated that ordering, not that it
			// merely arrived early. Tear the connection down instead of
			// buffering indefinitely.
			e.teardownConn(cs, api.NewError(api.ErrCodeProtocolError, "expected header arrived with no waiting receive"))
			return true
		}
		cs.mu.Unlock()
		n := cs.conn.arena.CopyOut(int(slotIdx), op.Buf, int(size))
		cs.conn.arena.Release(int(slotIdx))
		op.Complete()
		op.Ctx.Add(&api.Completion{Op: op, Kind: api.KindRecvExpected, Source: cs.addr.Dup(), Tag: tag, ActualBufSize: n, Buf: op.Buf, Release: func(c *api.Completion) { c.Source.Free(); e.opPool.Put(op) }})
		return false
	}
	return false
}

// Finalize tears down every connection this engine owns.
func (e *SmEngine) Finalize() error {
	e.connsMu.Lock()
	for id, cs := range e.conns {
		cs.conn.close()
		delete(e.conns, id)
	}
	e.connsMu.Unlock()
	return e.pset.Close()
}
