package endpoint

import (
	"github.com/fabriclink/rdmatransport/completion"
	"github.com/fabriclink/rdmatransport/ferrors"
	"github.com/fabriclink/rdmatransport/memregion"
	"github.com/fabriclink/rdmatransport/msgtype"
)

// sliceRegion resolves the [offset, offset+size) window of mr, bounds-
// checked uniformly for every post_* operation — a nil mr is only valid
// together with a zero offset and size, for a pure-immediate-data send or
// recv with no payload.
func sliceRegion(mr *memregion.MemoryRegion, offset, size int) ([]byte, error) {
	if mr == nil {
		if offset != 0 || size != 0 {
			return nil, ferrors.InvalidArgs("endpoint: offset %d / size %d given without a memory region", offset, size)
		}
		return nil, nil
	}
	if offset < 0 || size < 0 || offset+size > mr.Size() {
		return nil, ferrors.InvalidArgs("endpoint: window [%d, %d) exceeds region size %d", offset, offset+size, mr.Size())
	}
	return mr.Buffer()[offset : offset+size], nil
}

// PostSend posts a two-sided send of mr's [offset, offset+size) window,
// tagged with mt and wrID. The send completion is generated locally once
// the frame has been written to the connection, since the "sockets"
// provider has no separate NIC-side DMA stage to wait on.
func (e *Endpoint) PostSend(mt msgtype.MessageType, wrID uint64, mr *memregion.MemoryRegion, offset, size int, immediate uint32) error {
	if e.State() != StateConnected {
		return ferrors.InvalidArgs("endpoint: PostSend on endpoint in state %s", e.State())
	}
	payload, err := sliceRegion(mr, offset, size)
	if err != nil {
		return err
	}
	ctx, err := mt.Pack(wrID)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	writeErr := writeSendFrame(e.conn, ctx, immediate, payload)
	e.writeMu.Unlock()

	e.cq.Push(completion.Entry{
		Context:   ctx,
		Success:   writeErr == nil,
		Length:    uint32(len(payload)),
		Immediate: immediate,
		Kind:      completion.KindSend,
	})
	return writeErr
}

// PostEmptySend posts a zero-payload send, e.g. a pure-immediate-data
// notification.
func (e *Endpoint) PostEmptySend(mt msgtype.MessageType, wrID uint64, immediate uint32) error {
	return e.PostSend(mt, wrID, nil, 0, 0, immediate)
}

// PostRecv posts mr's [offset, offset+size) window to receive the next
// unmatched incoming send, matched FIFO in posting order. Unlike PostSend,
// this may be called before the endpoint reaches CONNECTED — a caller is
// expected to pre-post its initial receives (via Connect's postRecvs
// callback) before the connection comes up, so an eagerly arriving send has
// something to land in. The receive completion (with the number of bytes
// copied into this window, which drops any payload beyond size, and the
// sender's immediate data) is generated asynchronously by the read loop
// once a send frame arrives and is matched against this posting.
func (e *Endpoint) PostRecv(mt msgtype.MessageType, wrID uint64, mr *memregion.MemoryRegion, offset, size int) error {
	if s := e.State(); s == StateUnbound || s == StateClosed {
		return ferrors.InvalidArgs("endpoint: PostRecv on endpoint in state %s", s)
	}
	buf, err := sliceRegion(mr, offset, size)
	if err != nil {
		return err
	}
	ctx, err := mt.Pack(wrID)
	if err != nil {
		return err
	}
	e.pushRecv(postedRecv{buf: buf, ctx: ctx})
	return nil
}

// PostEmptyRecv posts a zero-length buffer, matching a send carrying only
// immediate data.
func (e *Endpoint) PostEmptyRecv(mt msgtype.MessageType, wrID uint64) error {
	return e.PostRecv(mt, wrID, nil, 0, 0)
}

// PostWrite issues a one-sided RMA write of localBuf into remote at
// remoteOffset. inline is a performance hint carried over from the
// original fi_write-style signature (small writes may be copied inline
// rather than queued); the "sockets" provider always copies the payload
// into the outgoing frame regardless, so it is accepted and currently
// ignored rather than rejected. If signaled is true, a KindWrite completion
// is generated once the peer acknowledges the write; otherwise the write is
// fire-and-forget and no completion is ever produced for it.
//
// The bounds check below — remoteOffset plus the payload length must not
// exceed remote.Size — applies once, regardless of addressing mode, rather
// than being duplicated per mode.
func (e *Endpoint) PostWrite(mt msgtype.MessageType, wrID uint64, localBuf []byte, remoteOffset uint64, remote memregion.RemoteMemoryRegion, immediate uint32, inline bool, signaled bool) error {
	if e.State() != StateConnected {
		return ferrors.InvalidArgs("endpoint: PostWrite on endpoint in state %s", e.State())
	}
	if remoteOffset+uint64(len(localBuf)) > remote.Size {
		return ferrors.InvalidArgs("endpoint: write of %d bytes at offset %d exceeds remote region size %d", len(localBuf), remoteOffset, remote.Size)
	}

	var targetAddr uint64
	if e.virtAddrMode {
		targetAddr = remote.Addr + remoteOffset
	} else {
		targetAddr = remoteOffset
	}

	ctx, err := mt.Pack(wrID)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	writeErr := writeWriteFrame(e.conn, ctx, signaled, immediate, remote.Key, targetAddr, localBuf)
	e.writeMu.Unlock()

	if writeErr != nil && signaled {
		e.cq.Push(completion.Entry{Context: ctx, Success: false, Kind: completion.KindWrite})
	}
	return writeErr
}
