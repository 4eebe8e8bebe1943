// Package endpoint implements the active, connected endpoint: the
// bidirectional object that carries post_send/post_recv/post_write and feeds
// their completions into a shared completion.Queue. See DESIGN.md for the
// connection-lifecycle design this generalizes.
package endpoint

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/fabriclink/rdmatransport/completion"
	"github.com/fabriclink/rdmatransport/ferrors"
	"github.com/fabriclink/rdmatransport/memregion"
	"github.com/fabriclink/rdmatransport/wire"
)

// postedRecv is one outstanding post_recv, matched FIFO against arriving
// send frames: receives are matched in posting order.
type postedRecv struct {
	buf []byte
	ctx uint64
}

// Endpoint is one connected active endpoint. It owns the underlying fabric
// connection and the single reader goroutine that demultiplexes incoming
// frames into completions and matched receives.
type Endpoint struct {
	cq           *completion.Queue
	virtAddrMode bool
	logger       *zap.SugaredLogger

	mu    sync.Mutex
	state State
	conn  net.Conn
	r     *bufio.Reader

	writeMu sync.Mutex

	recvMu    sync.Mutex
	recvCond  *sync.Cond
	recvQueue []postedRecv
	closed    bool

	closeOnce sync.Once
	readDone  chan struct{}
}

// New constructs an unbound Endpoint posting completions to cq. virtAddrMode
// selects how post_write resolves a remote descriptor's target address:
// FI_MR_VIRT_ADDR-style absolute addressing, or zero-based offset
// addressing.
func New(cq *completion.Queue, virtAddrMode bool, logger *zap.SugaredLogger) *Endpoint {
	e := &Endpoint{
		cq:           cq,
		virtAddrMode: virtAddrMode,
		logger:       logger,
		state:        StateUnbound,
	}
	e.recvCond = sync.NewCond(&e.recvMu)
	return e
}

// State reports the endpoint's current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connect drives the endpoint through BOUND → LISTEN_OR_CONNECT → CONNECTED.
// The server side waits for the peer's connection request on the passive
// endpoint; the client side dials the peer's published passive address.
// Once bound but before the connection is live, postRecvs (if non-nil) is
// called so the caller can pre-post initial receive buffers — otherwise a
// send that arrives the instant the connection comes up could find no
// posted recv to match against. Both sides then perform a final 4-byte
// rendezvous exchange over the new connection and start the read loop only
// once that succeeds.
//
// Any failure here is fatal: a connection-manager failure during bring-up
// crashes the process rather than returning a recoverable error, since
// there is no well-defined half-initialized state to hand back to the
// caller.
func (e *Endpoint) Connect(ctx context.Context, broker ConnBroker, selfID, peerID uint32, remoteAddr string, isServer bool, postRecvs func(*Endpoint) error) error {
	const op = "endpoint.Connect"

	e.mu.Lock()
	e.state = StateBound
	e.mu.Unlock()

	if postRecvs != nil {
		if err := postRecvs(e); err != nil {
			ferrors.Crash(e.logger, op, 0, err)
			return err
		}
	}

	e.mu.Lock()
	e.state = StateListenOrConnect
	e.mu.Unlock()

	var conn net.Conn
	var err error
	if isServer {
		conn, err = broker.WaitForPeerConn(ctx, peerID)
	} else {
		conn, err = broker.DialPeer(ctx, peerID, remoteAddr)
	}
	if err != nil {
		ferrors.Crash(e.logger, op, 0, err)
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.r = bufio.NewReader(conn)
	e.mu.Unlock()

	if err := rendezvous(conn); err != nil {
		ferrors.Crash(e.logger, op, 0, err)
		return err
	}

	e.mu.Lock()
	e.state = StateConnected
	e.mu.Unlock()

	e.readDone = make(chan struct{})
	go e.readLoop()

	return nil
}

// rendezvous performs the final connect-protocol handshake: both sides
// write a 4-byte sync sentinel and read the peer's, concurrently so neither
// blocks waiting for the other to read first. A non-zero sentinel means the
// peer observed its own setup as failed, so this side must not proceed to
// CONNECTED either.
func rendezvous(conn net.Conn) error {
	out := wire.EncodeSync(true)
	var in [wire.SyncFrameLen]byte

	errCh := make(chan error, 2)
	go func() {
		_, err := conn.Write(out[:])
		errCh <- err
	}()
	go func() {
		_, err := io.ReadFull(conn, in[:])
		errCh <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return ferrors.ConnectionBroken("endpoint: rendezvous exchange: %v", err)
		}
	}

	ok, err := wire.DecodeSync(in[:])
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.ConnectionBroken("endpoint: peer reported a failed rendezvous")
	}
	return nil
}

// Close tears the endpoint down: the underlying connection is closed, the
// read loop is allowed to drain and exit, and any goroutine blocked in
// popRecv is woken with ok=false. Close is idempotent.
func (e *Endpoint) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		conn := e.conn
		e.state = StateClosed
		e.mu.Unlock()

		if conn != nil {
			closeErr = conn.Close()
		}

		e.recvMu.Lock()
		e.closed = true
		e.recvMu.Unlock()
		e.recvCond.Broadcast()

		if e.readDone != nil {
			<-e.readDone
		}
	})
	return closeErr
}

func (e *Endpoint) readLoop() {
	defer close(e.readDone)
	for {
		op, err := readOpcode(e.r)
		if err != nil {
			if err != io.EOF && e.logger != nil {
				e.logger.Debugw("endpoint read loop exiting", "error", err)
			}
			return
		}

		switch op {
		case opSend:
			f, err := readSendFrameBody(e.r)
			if err != nil {
				return
			}
			e.handleSendFrame(f)
		case opWrite:
			f, err := readWriteFrameBody(e.r)
			if err != nil {
				return
			}
			e.handleWriteFrame(f)
		case opWriteAck:
			f, err := readAckFrameBody(e.r)
			if err != nil {
				return
			}
			e.handleAckFrame(f)
		}
	}
}

func (e *Endpoint) handleSendFrame(f sendFrame) {
	pr, ok := e.popRecv()
	if !ok {
		return // endpoint closed with no posted recv to match; drop silently
	}
	n := copy(pr.buf, f.payload)
	e.cq.Push(completion.Entry{
		Context:   pr.ctx,
		Success:   true,
		Length:    uint32(n),
		Immediate: f.immediate,
		Kind:      completion.KindReceive,
	})
}

func (e *Endpoint) handleWriteFrame(f writeFrame) {
	mr, ok := memregion.Lookup(f.remoteKey)
	success := ok
	var length uint32
	if ok {
		var localOffset uint64
		if e.virtAddrMode {
			localOffset = f.targetAddr - mr.Addr()
		} else {
			localOffset = f.targetAddr
		}
		if localOffset+uint64(len(f.payload)) > uint64(mr.Size()) {
			success = false
		} else {
			copy(mr.Buffer()[localOffset:], f.payload)
			length = uint32(len(f.payload))
		}
	}

	// A plain RMA write never posts a completion on the target side: the
	// target learns of it only if it separately polls the written memory,
	// or via the initiator's signaled completion.
	if f.ackRequested {
		e.writeMu.Lock()
		writeAckFrame(e.conn, f.ctx, success, f.immediate, length)
		e.writeMu.Unlock()
	}
}

func (e *Endpoint) handleAckFrame(f ackFrame) {
	e.cq.Push(completion.Entry{
		Context:   f.ctx,
		Success:   f.success,
		Length:    f.length,
		Immediate: f.immediate,
		Kind:      completion.KindWrite,
	})
}

func (e *Endpoint) pushRecv(pr postedRecv) {
	e.recvMu.Lock()
	e.recvQueue = append(e.recvQueue, pr)
	e.recvMu.Unlock()
	e.recvCond.Signal()
}

func (e *Endpoint) popRecv() (postedRecv, bool) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()
	for len(e.recvQueue) == 0 && !e.closed {
		e.recvCond.Wait()
	}
	if len(e.recvQueue) == 0 {
		return postedRecv{}, false
	}
	pr := e.recvQueue[0]
	e.recvQueue = e.recvQueue[1:]
	return pr, true
}
