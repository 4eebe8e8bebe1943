package fabric

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabriclink/rdmatransport/bootstrap"
	"github.com/fabriclink/rdmatransport/completion"
	"github.com/fabriclink/rdmatransport/config"
	"github.com/fabriclink/rdmatransport/endpoint"
	"github.com/fabriclink/rdmatransport/ferrors"
	"github.com/fabriclink/rdmatransport/metrics"
	"github.com/fabriclink/rdmatransport/msgtype"
	"github.com/fabriclink/rdmatransport/wire"
)

// Context is the FabricContext: one process's fabric domain. It owns the
// provider's passive endpoint, the shared completion queue and its polling
// loop, the message-type registry, and the set of endpoints connected
// through it. Context implements endpoint.ConnBroker so an *Endpoint can
// drive its own connect protocol without this package's callers reaching
// into provider internals.
type Context struct {
	runID  string
	selfID uint32
	logger *zap.SugaredLogger
	rec    *metrics.Recorder

	provider Provider
	info     Info
	passive  PassiveEndpoint

	cq       *completion.Queue
	registry *msgtype.Registry
	loop     *completion.PollingLoop

	mu        sync.Mutex
	endpoints map[uint32]*endpoint.Endpoint
	closed    bool
}

// Option configures Initialize, following the functional-options pattern
// used by responder.Option (responder/options.go).
type Option func(*Context)

// WithLogger attaches structured logging to the context and everything it
// creates.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics attaches a metrics.Recorder. A Context with none attached
// still runs correctly: every Recorder method is a nil-safe no-op.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Context) { c.rec = r }
}

// Initialize resolves cfg.Provider, queries its capabilities through
// queryInfo with empty hints (already the relaxed query, so queryInfo's
// retry step is not taken from here), opens the passive endpoint at
// bindAddr, checks that its address fits in wire.MaxAddrLen bytes, and
// starts the completion-queue polling loop. Every failure
// here is fatal: there is no well-defined half-initialized FabricContext to
// hand back to the caller.
func Initialize(selfID uint32, bindAddr string, cfg *config.Config, opts ...Option) *Context {
	const op = "fabric.Initialize"

	c := &Context{
		runID:     uuid.NewString(),
		selfID:    selfID,
		endpoints: make(map[uint32]*endpoint.Endpoint),
	}
	for _, opt := range opts {
		opt(c)
	}

	p, ok := Lookup(cfg.Provider)
	if !ok {
		ferrors.Crash(c.logger, op, 0, ferrors.UnsupportedFeature("fabric: no provider registered for %q", cfg.Provider))
		return nil
	}
	c.provider = p

	trace := func(format string, args ...interface{}) {
		if c.logger != nil {
			c.logger.Debugf(format, args...)
		}
	}
	info, err := queryInfo(p, Hints{}, trace)
	if err != nil {
		ferrors.Crash(c.logger, op, 0, err)
		return nil
	}
	c.info = info

	passive, err := p.Listen(bindAddr)
	if err != nil {
		ferrors.Crash(c.logger, op, 0, err)
		return nil
	}
	c.passive = passive
	if n := len(passive.Addr()); n > wire.MaxAddrLen {
		ferrors.Crash(c.logger, op, 0, ferrors.FatalFabric("fabric: passive endpoint address is %d bytes, exceeds max %d", n, wire.MaxAddrLen))
		return nil
	}

	c.registry = msgtype.NewRegistry()
	c.cq = completion.NewQueue(cfg.TxDepth + cfg.RxDepth)
	c.loop = completion.NewPollingLoop(c.cq, c.registry, c.rec, c.logger)
	c.loop.Start()

	if c.logger != nil {
		c.logger.Infow("fabric context initialized",
			"run_id", c.runID, "self_id", selfID, "provider", p.Name(), "addr", passive.Addr())
	}
	return c
}

// RunID is this context's diagnostic run identifier. It is logged at
// Initialize and Destroy and on the context's own log lines for each
// endpoint it connects or closes.
func (c *Context) RunID() string { return c.runID }

// CompletionQueue returns the shared queue every Endpoint opened through
// this context posts completions to.
func (c *Context) CompletionQueue() *completion.Queue { return c.cq }

// MessageTypes returns the registry new message types should be registered
// against.
func (c *Context) MessageTypes() *msgtype.Registry { return c.registry }

// SetInterruptMode toggles the completion-queue polling loop between
// busy-poll and interrupt-driven modes.
func (c *Context) SetInterruptMode(interrupt bool) { c.loop.SetInterruptMode(interrupt) }

// PassiveAddr implements endpoint.ConnBroker.
func (c *Context) PassiveAddr() string { return c.passive.Addr() }

// WaitForPeerConn implements endpoint.ConnBroker.
func (c *Context) WaitForPeerConn(ctx context.Context, peerID uint32) (net.Conn, error) {
	return c.passive.Accept(ctx, peerID)
}

// DialPeer implements endpoint.ConnBroker.
func (c *Context) DialPeer(ctx context.Context, peerID uint32, remoteAddr string) (net.Conn, error) {
	return c.provider.Dial(ctx, remoteAddr, c.selfID)
}

// Connect brings up one peer connection: it publishes this context's
// passive address and learns the peer's over ch, then opens an Endpoint in
// whichever role avoids a connection race (the lower id dials, the higher
// id accepts — grounded on bootstrap.TCPChannel's own convention). postRecvs,
// if non-nil, is called on the new Endpoint once it is bound but before the
// connection is live, so the caller can pre-post initial receive buffers;
// it is passed through unchanged to endpoint.Endpoint.Connect.
func (c *Context) Connect(ctx context.Context, ch bootstrap.Channel, peerID uint32, postRecvs func(*endpoint.Endpoint) error) (*endpoint.Endpoint, error) {
	selfFrame, err := wire.EncodeAddressFrame([]byte(c.passive.Addr()))
	if err != nil {
		return nil, ferrors.FatalFabric("fabric: encode passive address: %v", err)
	}
	var peerFrame [wire.AddressFrameLen]byte
	if err := ch.Exchange(ctx, peerID, selfFrame[:], peerFrame[:]); err != nil {
		return nil, err
	}
	peerAddrBytes, err := wire.DecodeAddressFrame(peerFrame[:])
	if err != nil {
		return nil, ferrors.FatalFabric("fabric: decode peer %d's passive address: %v", peerID, err)
	}

	ep := endpoint.New(c.cq, c.info.VirtAddrMode, c.logger)
	isServer := c.selfID > peerID
	if err := ep.Connect(ctx, c, c.selfID, peerID, string(peerAddrBytes), isServer, postRecvs); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.endpoints[peerID] = ep
	c.mu.Unlock()
	c.rec.IncConnected()

	if c.logger != nil {
		c.logger.Infow("endpoint connected", "run_id", c.runID, "peer_id", peerID, "role", roleName(isServer))
	}
	return ep, nil
}

// ConnectAll connects to every id in peers concurrently, via
// golang.org/x/sync/errgroup, returning as soon as any one connection fails
// fatally. The same postRecvs callback (see Connect) is used for every
// peer.
func (c *Context) ConnectAll(ctx context.Context, ch bootstrap.Channel, peers []uint32, postRecvs func(*endpoint.Endpoint) error) (map[uint32]*endpoint.Endpoint, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make(map[uint32]*endpoint.Endpoint, len(peers))
	var mu sync.Mutex

	for _, peerID := range peers {
		peerID := peerID
		g.Go(func() error {
			ep, err := c.Connect(gctx, ch, peerID, postRecvs)
			if err != nil {
				return err
			}
			mu.Lock()
			results[peerID] = ep
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Endpoint returns the endpoint previously connected to peerID, if any.
func (c *Context) Endpoint(peerID uint32) (*endpoint.Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep, ok := c.endpoints[peerID]
	return ep, ok
}

// Destroy tears the context down: every connected endpoint is closed, the
// polling loop is stopped (no handler fires after Destroy returns), and the
// passive endpoint is closed. Destroy is idempotent.
func (c *Context) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	endpoints := c.endpoints
	c.endpoints = nil
	c.mu.Unlock()

	for peerID, ep := range endpoints {
		_ = ep.Close()
		c.rec.DecConnected()
		if c.logger != nil {
			c.logger.Debugw("endpoint closed", "run_id", c.runID, "peer_id", peerID)
		}
	}

	c.loop.Stop()
	_ = c.passive.Close()

	if c.logger != nil {
		c.logger.Infow("fabric context destroyed", "run_id", c.runID)
	}
}

func roleName(isServer bool) string {
	if isServer {
		return "server"
	}
	return "client"
}
