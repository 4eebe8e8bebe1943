package fabric

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/fabriclink/rdmatransport/ferrors"
)

// supportedModeBits is the set of fi_info mode bits the sockets provider
// accepts; it is software-emulated RDMA with no real mode-bit negotiation,
// so any nonzero request beyond this trips the relaxed-hints retry in
// queryInfo.
const supportedModeBits = 0

// socketsProvider is the pure-Go, TCP-backed emulation of libfabric's own
// "sockets" provider: passive/active endpoints over net.Listener/net.Dialer,
// with an identification handshake standing in for the connection manager's
// CONNREQ/CONNECTED events. See SPEC_FULL.md §0 for why this module
// emulates rather than binds to libfabric.
type socketsProvider struct{}

func newSocketsProvider() *socketsProvider { return &socketsProvider{} }

func (socketsProvider) Name() string { return "sockets" }

func (socketsProvider) Info(hints Hints) (Info, error) {
	if hints.ModeBits & ^uint64(supportedModeBits) != 0 {
		return Info{}, ferrors.UnsupportedFeature("sockets: mode bits %#x not supported", hints.ModeBits)
	}
	return Info{ModeBits: hints.ModeBits, VirtAddrMode: true}, nil
}

func (socketsProvider) Listen(bindAddr string) (PassiveEndpoint, error) {
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
	ln, err := lc.Listen(context.Background(), "tcp", bindAddr)
	if err != nil {
		return nil, ferrors.FatalFabric("sockets: listen on %s: %v", bindAddr, err)
	}

	pe := &socketsPassiveEndpoint{
		listener: ln,
		waiters:  make(map[uint32]chan net.Conn),
	}
	go pe.acceptLoop()
	return pe, nil
}

func (socketsProvider) Dial(ctx context.Context, remoteAddr string, selfID uint32) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", remoteAddr)
	if err != nil {
		return nil, ferrors.ConnectionBroken("sockets: dial %s: %v", remoteAddr, err)
	}
	setNoDelay(conn)

	var hdr [connHandshakeLen]byte
	binary.BigEndian.PutUint32(hdr[:], selfID)
	if _, err := conn.Write(hdr[:]); err != nil {
		_ = conn.Close()
		return nil, ferrors.ConnectionBroken("sockets: handshake write to %s: %v", remoteAddr, err)
	}
	return conn, nil
}

// connHandshakeLen is the size of the self-identification frame a dialing
// peer sends immediately on connect, letting the accepting side's
// acceptLoop route the new connection to the Accept call naming that peer.
const connHandshakeLen = 4

// socketsPassiveEndpoint is the listening side of a simulated fabric
// connection, grounded on bootstrap.TCPChannel's own accept-loop/handshake
// pattern (bootstrap/tcp.go) but kept separate: the bootstrap channel is
// the control-plane address exchange, this is the fabric data plane.
type socketsPassiveEndpoint struct {
	listener net.Listener

	mu      sync.Mutex
	waiters map[uint32]chan net.Conn
	closed  bool
}

func (pe *socketsPassiveEndpoint) Addr() string {
	return pe.listener.Addr().String()
}

func (pe *socketsPassiveEndpoint) acceptLoop() {
	for {
		conn, err := pe.listener.Accept()
		if err != nil {
			return
		}
		go pe.handleAccepted(conn)
	}
}

func (pe *socketsPassiveEndpoint) handleAccepted(conn net.Conn) {
	setNoDelay(conn)

	var hdr [connHandshakeLen]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		_ = conn.Close()
		return
	}
	peerID := binary.BigEndian.Uint32(hdr[:])

	pe.mu.Lock()
	if pe.closed {
		pe.mu.Unlock()
		_ = conn.Close()
		return
	}
	w, ok := pe.waiters[peerID]
	if !ok {
		w = make(chan net.Conn, 1)
		pe.waiters[peerID] = w
	}
	pe.mu.Unlock()

	select {
	case w <- conn:
	default:
		_ = conn.Close() // a connection for this peer already arrived
	}
}

func (pe *socketsPassiveEndpoint) Accept(ctx context.Context, peerID uint32) (net.Conn, error) {
	pe.mu.Lock()
	if pe.closed {
		pe.mu.Unlock()
		return nil, ferrors.ConnectionBroken("sockets: Accept(%d) after Close", peerID)
	}
	w, ok := pe.waiters[peerID]
	if !ok {
		w = make(chan net.Conn, 1)
		pe.waiters[peerID] = w
	}
	pe.mu.Unlock()

	select {
	case conn := <-w:
		return conn, nil
	case <-ctx.Done():
		return nil, ferrors.ConnectionBroken("sockets: waiting for peer %d: %v", peerID, ctx.Err())
	}
}

func (pe *socketsPassiveEndpoint) Close() error {
	pe.mu.Lock()
	pe.closed = true
	pe.mu.Unlock()
	return pe.listener.Close()
}

func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
