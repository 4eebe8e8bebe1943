package endpoint

import (
	"context"
	"net"
)

// ConnBroker is the slice of fabric.Context an Endpoint needs to carry out
// its connect protocol, kept as an interface (following the
// transport.Transport split in internal/transport/transport.go) so this
// package never imports fabric: fabric.Context implements ConnBroker and
// passes itself in.
type ConnBroker interface {
	// PassiveAddr returns this node's passive-endpoint address, as sent
	// over the bootstrap channel during address exchange.
	PassiveAddr() string

	// WaitForPeerConn blocks until a connection-manager request ("CONNREQ")
	// naming peerID has arrived on the passive endpoint.
	WaitForPeerConn(ctx context.Context, peerID uint32) (net.Conn, error)

	// DialPeer initiates the fabric connection to peerID's passive
	// address.
	DialPeer(ctx context.Context, peerID uint32, remoteAddr string) (net.Conn, error)
}
