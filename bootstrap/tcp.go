package bootstrap

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fabriclink/rdmatransport/ferrors"
)

// handshakeLen is the size of the self-identification frame a dialing node
// sends immediately after connecting, so the accepting side can route the
// new connection to the right peer id.
const handshakeLen = 4

// TCPChannel is the default Channel implementation: one persistent TCP
// connection per peer, established once, reused for every Exchange call.
// Of a pair of nodes, the lower id dials; the higher id accepts — this
// avoids a connection race without any additional coordination.
type TCPChannel struct {
	selfID   uint32
	logger   *zap.SugaredLogger
	listener net.Listener

	mu      sync.Mutex
	addrs   map[uint32]string
	conns   map[uint32]*peerConn
	waiters map[uint32]chan net.Conn
	closed  bool
}

type peerConn struct {
	conn net.Conn
	mu   sync.Mutex // serializes writes; reads are single-reader per Exchange call site
}

// NewTCPChannel starts listening on listenAddr and returns a channel
// identified by selfID. Accepted connections are routed to peers once they
// send their handshake frame.
func NewTCPChannel(ctx context.Context, selfID uint32, listenAddr string, logger *zap.SugaredLogger) (*TCPChannel, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: listen on %s: %w", listenAddr, err)
	}

	tc := &TCPChannel{
		selfID:   selfID,
		logger:   logger,
		listener: ln,
		addrs:    make(map[uint32]string),
		conns:    make(map[uint32]*peerConn),
		waiters:  make(map[uint32]chan net.Conn),
	}
	go tc.acceptLoop()
	return tc, nil
}

func (tc *TCPChannel) acceptLoop() {
	for {
		conn, err := tc.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go tc.handleAccepted(conn)
	}
}

func (tc *TCPChannel) handleAccepted(conn net.Conn) {
	setNoDelay(conn)

	var hdr [handshakeLen]byte
	if _, err := fullRead(conn, hdr[:]); err != nil {
		if tc.logger != nil {
			tc.logger.Debugw("bootstrap: handshake read failed", "error", err)
		}
		_ = conn.Close()
		return
	}
	peerID := binary.BigEndian.Uint32(hdr[:])

	tc.mu.Lock()
	w := tc.waiters[peerID]
	if w == nil {
		w = make(chan net.Conn, 1)
		tc.waiters[peerID] = w
	}
	tc.mu.Unlock()

	select {
	case w <- conn:
	default:
		// A connection for this peer already arrived; keep that one
		// and drop this newer duplicate.
		_ = conn.Close()
	}
}

// ListenAddr returns the address this channel is bound to, letting a
// caller that bound to ":0" discover its actual ephemeral port before
// publishing it to peers.
func (tc *TCPChannel) ListenAddr() string {
	return tc.listener.Addr().String()
}

// AddNode registers addr as the bootstrap address for peer id.
func (tc *TCPChannel) AddNode(id uint32, addr string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return ferrors.ConnectionBroken("bootstrap: AddNode(%d) after Close", id)
	}
	tc.addrs[id] = addr
	return nil
}

func (tc *TCPChannel) connFor(ctx context.Context, peer uint32) (*peerConn, error) {
	tc.mu.Lock()
	if pc, ok := tc.conns[peer]; ok {
		tc.mu.Unlock()
		return pc, nil
	}
	addr, known := tc.addrs[peer]
	tc.mu.Unlock()

	if !known {
		return nil, ferrors.InvalidArgs("bootstrap: peer %d was never added via AddNode", peer)
	}

	var conn net.Conn
	if tc.selfID < peer {
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, ferrors.ConnectionBroken("bootstrap: dial peer %d at %s: %v", peer, addr, err)
		}
		setNoDelay(conn)
		var hdr [handshakeLen]byte
		binary.BigEndian.PutUint32(hdr[:], tc.selfID)
		if _, err := conn.Write(hdr[:]); err != nil {
			_ = conn.Close()
			return nil, ferrors.ConnectionBroken("bootstrap: handshake write to peer %d: %v", peer, err)
		}
		return tc.store(peer, conn), nil
	}

	tc.mu.Lock()
	w, ok := tc.waiters[peer]
	if !ok {
		w = make(chan net.Conn, 1)
		tc.waiters[peer] = w
	}
	tc.mu.Unlock()

	select {
	case conn = <-w:
		return tc.store(peer, conn), nil
	case <-ctx.Done():
		return nil, ferrors.ConnectionBroken("bootstrap: waiting for peer %d to connect: %v", peer, ctx.Err())
	}
}

func (tc *TCPChannel) store(peer uint32, conn net.Conn) *peerConn {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if pc, ok := tc.conns[peer]; ok {
		_ = conn.Close()
		return pc
	}
	pc := &peerConn{conn: conn}
	tc.conns[peer] = pc
	return pc
}

// Exchange performs a symmetric swap: write out to peer while reading
// len(in) bytes from peer, both proceeding concurrently so neither side
// deadlocks waiting for the other to read first.
func (tc *TCPChannel) Exchange(ctx context.Context, peer uint32, out, in []byte) error {
	if len(out) != len(in) {
		return ferrors.InvalidArgs("bootstrap: Exchange out/in length mismatch: %d vs %d", len(out), len(in))
	}

	pc, err := tc.connFor(ctx, peer)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		_, err := pc.conn.Write(out)
		errCh <- err
	}()
	go func() {
		_, err := fullRead(pc.conn, in)
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if err != nil {
				return ferrors.ConnectionBroken("bootstrap: exchange with peer %d: %v", peer, err)
			}
		case <-ctx.Done():
			return ferrors.ConnectionBroken("bootstrap: exchange with peer %d: %v", peer, ctx.Err())
		}
	}
	return nil
}

// Close releases the listener and every established connection.
func (tc *TCPChannel) Close() error {
	tc.mu.Lock()
	tc.closed = true
	conns := tc.conns
	tc.conns = nil
	tc.mu.Unlock()

	err := tc.listener.Close()
	for _, pc := range conns {
		_ = pc.conn.Close()
	}
	return err
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
