package bootstrap

import (
	"context"

	"github.com/fabriclink/rdmatransport/wire"
)

// Sync is the pairwise group-sync primitive: a zero-payload symmetric
// exchange used as a barrier. Higher layers compose pairwise syncs into
// group barriers.
func Sync(ctx context.Context, ch Channel, peer uint32) (bool, error) {
	out := wire.EncodeSync(true)
	var in [wire.SyncFrameLen]byte
	if err := ch.Exchange(ctx, peer, out[:], in[:]); err != nil {
		return false, err
	}
	return wire.DecodeSync(in[:])
}
