// Package wire implements the fixed-size frames exchanged over the
// bootstrap TCP channel: a 116-byte address-exchange frame (a 4-byte
// big-endian length prefix plus a 112-byte opaque address — see DESIGN.md
// for why the frame is 116 bytes rather than 120), three 8-byte
// region-exchange values, and a 4-byte sync value. All integers are
// big-endian on the wire regardless of host endianness.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxAddrLen is the largest passive-endpoint address this wire format
	// can carry.
	MaxAddrLen = 112

	// AddressFrameLen is the total size of an address-exchange frame: a
	// 4-byte big-endian length prefix followed by MaxAddrLen bytes of
	// opaque address (zero-padded tail).
	AddressFrameLen = 4 + MaxAddrLen

	// RegionValueLen is the size of one region-exchange value (address,
	// size, or key), each an 8-byte big-endian integer.
	RegionValueLen = 8

	// SyncFrameLen is the size of the group-sync rendezvous value.
	SyncFrameLen = 4
)

// EncodeAddressFrame packs a passive-endpoint address into a fixed
// AddressFrameLen-byte frame. It returns an error if addr exceeds
// MaxAddrLen; callers treat that as a fatal initialization failure.
func EncodeAddressFrame(addr []byte) ([AddressFrameLen]byte, error) {
	var frame [AddressFrameLen]byte
	if len(addr) > MaxAddrLen {
		return frame, fmt.Errorf("wire: passive endpoint address is %d bytes, exceeds max %d", len(addr), MaxAddrLen)
	}
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(addr)))
	copy(frame[4:], addr)
	return frame, nil
}

// DecodeAddressFrame recovers the address bytes from a frame produced by
// EncodeAddressFrame.
func DecodeAddressFrame(frame []byte) ([]byte, error) {
	if len(frame) != AddressFrameLen {
		return nil, fmt.Errorf("wire: address frame is %d bytes, want %d", len(frame), AddressFrameLen)
	}
	n := binary.BigEndian.Uint32(frame[0:4])
	if n > MaxAddrLen {
		return nil, fmt.Errorf("wire: decoded address length %d exceeds max %d", n, MaxAddrLen)
	}
	addr := make([]byte, n)
	copy(addr, frame[4:4+n])
	return addr, nil
}

// EncodeRegionValue packs one region-exchange value (a virtual address,
// length, or remote key) as an 8-byte big-endian integer.
func EncodeRegionValue(v uint64) [RegionValueLen]byte {
	var b [RegionValueLen]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}

// DecodeRegionValue recovers a region-exchange value. 0x01020304 written by
// a little-endian host reads back identically on a big-endian host because
// both sides go through this big-endian transform.
func DecodeRegionValue(b []byte) (uint64, error) {
	if len(b) != RegionValueLen {
		return 0, fmt.Errorf("wire: region value is %d bytes, want %d", len(b), RegionValueLen)
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeSync packs the 4-byte rendezvous sentinel. A zero value signals
// success; any non-zero value signals the peer observed a failure.
func EncodeSync(ok bool) [SyncFrameLen]byte {
	var b [SyncFrameLen]byte
	if !ok {
		binary.BigEndian.PutUint32(b[:], 1)
	}
	return b
}

// DecodeSync inverts EncodeSync.
func DecodeSync(b []byte) (bool, error) {
	if len(b) != SyncFrameLen {
		return false, fmt.Errorf("wire: sync value is %d bytes, want %d", len(b), SyncFrameLen)
	}
	return binary.BigEndian.Uint32(b) == 0, nil
}
