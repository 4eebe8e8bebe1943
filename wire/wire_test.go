package wire

import "testing"

func TestAddressFrameRoundTrip(t *testing.T) {
	addr := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	frame, err := EncodeAddressFrame(addr)
	if err != nil {
		t.Fatalf("EncodeAddressFrame: %v", err)
	}
	if len(frame) != AddressFrameLen {
		t.Fatalf("frame length = %d, want %d", len(frame), AddressFrameLen)
	}

	got, err := DecodeAddressFrame(frame[:])
	if err != nil {
		t.Fatalf("DecodeAddressFrame: %v", err)
	}
	if string(got) != string(addr) {
		t.Errorf("DecodeAddressFrame = %x, want %x", got, addr)
	}
}

func TestAddressFrameTooLong(t *testing.T) {
	addr := make([]byte, MaxAddrLen+1)
	if _, err := EncodeAddressFrame(addr); err == nil {
		t.Error("EncodeAddressFrame with oversized address: error = nil, want non-nil")
	}
}

func TestAddressFrameZeroPaddedTail(t *testing.T) {
	addr := []byte{0x01}
	frame, err := EncodeAddressFrame(addr)
	if err != nil {
		t.Fatalf("EncodeAddressFrame: %v", err)
	}
	for i := 5; i < AddressFrameLen; i++ {
		if frame[i] != 0 {
			t.Fatalf("frame[%d] = %#x, want 0 (unused tail must be zero)", i, frame[i])
		}
	}
}

func TestRegionValueEndianness(t *testing.T) {
	const want uint64 = 0x01020304
	b := EncodeRegionValue(want)
	got, err := DecodeRegionValue(b[:])
	if err != nil {
		t.Fatalf("DecodeRegionValue: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %#x, want %#x", got, want)
	}
	// The wire bytes must be big-endian regardless of host endianness.
	if b[0] != 0x00 || b[4] != 0x01 || b[5] != 0x02 || b[6] != 0x03 || b[7] != 0x04 {
		t.Errorf("wire bytes = %x, want big-endian 0x0000000001020304", b)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	okFrame := EncodeSync(true)
	ok, err := DecodeSync(okFrame[:])
	if err != nil || !ok {
		t.Errorf("DecodeSync(true) = (%v, %v), want (true, nil)", ok, err)
	}

	failFrame := EncodeSync(false)
	ok, err = DecodeSync(failFrame[:])
	if err != nil || ok {
		t.Errorf("DecodeSync(false) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestDecodeAddressFrameWrongSize(t *testing.T) {
	if _, err := DecodeAddressFrame([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeAddressFrame with wrong size: error = nil, want non-nil")
	}
}
