// Package regionx implements the remote-region exchange: trading each
// peer's MemoryRegion descriptor (address, size, remote key) over the
// bootstrap channel so post_write callers have something to target.
package regionx

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fabriclink/rdmatransport/bootstrap"
	"github.com/fabriclink/rdmatransport/memregion"
	"github.com/fabriclink/rdmatransport/wire"
)

// Exchange trades mr's descriptor with peerID over three sequential
// rounds — address, then size, then key, the order the wire frames must be
// read in — and returns the peer's descriptor.
func Exchange(ctx context.Context, ch bootstrap.Channel, peerID uint32, mr *memregion.MemoryRegion) (memregion.RemoteMemoryRegion, error) {
	local := memregion.Describe(mr)

	peerAddr, err := exchangeValue(ctx, ch, peerID, local.Addr)
	if err != nil {
		return memregion.RemoteMemoryRegion{}, err
	}
	peerSize, err := exchangeValue(ctx, ch, peerID, local.Size)
	if err != nil {
		return memregion.RemoteMemoryRegion{}, err
	}
	peerKey, err := exchangeValue(ctx, ch, peerID, local.Key)
	if err != nil {
		return memregion.RemoteMemoryRegion{}, err
	}

	return memregion.RemoteMemoryRegion{Addr: peerAddr, Size: peerSize, Key: peerKey}, nil
}

func exchangeValue(ctx context.Context, ch bootstrap.Channel, peerID uint32, v uint64) (uint64, error) {
	out := wire.EncodeRegionValue(v)
	var in [wire.RegionValueLen]byte
	if err := ch.Exchange(ctx, peerID, out[:], in[:]); err != nil {
		return 0, err
	}
	return wire.DecodeRegionValue(in[:])
}

// ExchangeAll runs Exchange concurrently across every id in peers, using
// golang.org/x/sync/errgroup to fan the per-peer exchanges out while
// keeping each peer's three rounds sequential.
func ExchangeAll(ctx context.Context, ch bootstrap.Channel, peers []uint32, mr *memregion.MemoryRegion) (map[uint32]memregion.RemoteMemoryRegion, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make(map[uint32]memregion.RemoteMemoryRegion, len(peers))
	var mu sync.Mutex

	for _, peerID := range peers {
		peerID := peerID
		g.Go(func() error {
			rmr, err := Exchange(gctx, ch, peerID, mr)
			if err != nil {
				return err
			}
			mu.Lock()
			results[peerID] = rmr
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
