// Package bootstrap implements the external TCP connection manager the
// rest of this module treats as a primitive collaborator: add_node(id,
// addr), and a symmetric blocking exchange(peer_id, send_value, &recv_value).
// This transport does not own that collaborator's design; it still has to
// call a concrete implementation, so this package provides the minimal one
// the rest of the transport is built and tested against.
package bootstrap

import "context"

// Channel is the bootstrap TCP connection manager surface this transport
// requires: add a node's address to the group, then block on a symmetric
// value swap with that peer.
type Channel interface {
	// AddNode registers a peer's bootstrap address. It must be called
	// before the first Exchange with that peer.
	AddNode(id uint32, addr string) error

	// Exchange swaps out with the named peer and copies what the peer
	// sent into in. len(out) must equal len(in). It blocks until both
	// sides have completed the swap, ctx is done, or the connection is
	// lost — the latter surfaces as ferrors.ErrConnectionBroken.
	Exchange(ctx context.Context, peer uint32, out, in []byte) error

	// Close releases all connections held by the channel.
	Close() error
}
