package memregion

import "testing"

func TestRegisterRejectsNilOrEmpty(t *testing.T) {
	if _, err := Register(nil); err == nil {
		t.Error("Register(nil): error = nil, want non-nil")
	}
	if _, err := Register([]byte{}); err == nil {
		t.Error("Register(empty): error = nil, want non-nil")
	}
}

func TestRegisterAllocatedRejectsNonPositiveSize(t *testing.T) {
	if _, err := RegisterAllocated(0); err == nil {
		t.Error("RegisterAllocated(0): error = nil, want non-nil")
	}
	if _, err := RegisterAllocated(-1); err == nil {
		t.Error("RegisterAllocated(-1): error = nil, want non-nil")
	}
}

func TestKeyStableAndLookupRoundTrip(t *testing.T) {
	mr, err := RegisterAllocated(64)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	defer mr.Release()

	key1 := mr.Key()
	key2 := mr.Key()
	if key1 != key2 {
		t.Errorf("Key() not stable: %d != %d", key1, key2)
	}

	found, ok := Lookup(key1)
	if !ok || found != mr {
		t.Errorf("Lookup(%d) = (%v, %v), want (%v, true)", key1, found, ok, mr)
	}
}

func TestReleaseIsIdempotentAndRemovesFromTable(t *testing.T) {
	mr, err := RegisterAllocated(16)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	key := mr.Key()

	mr.Release()
	mr.Release() // must not panic or double-delete someone else's entry

	if _, ok := Lookup(key); ok {
		t.Error("Lookup after Release: ok = true, want false")
	}
}

func TestDistinctRegionsGetDistinctKeysAndAddrs(t *testing.T) {
	a, err := RegisterAllocated(32)
	if err != nil {
		t.Fatalf("RegisterAllocated(a): %v", err)
	}
	defer a.Release()
	b, err := RegisterAllocated(32)
	if err != nil {
		t.Fatalf("RegisterAllocated(b): %v", err)
	}
	defer b.Release()

	if a.Key() == b.Key() {
		t.Errorf("two regions share key %d", a.Key())
	}
	if a.Addr() == b.Addr() {
		t.Errorf("two regions share addr %d", a.Addr())
	}
}

func TestDescribe(t *testing.T) {
	mr, err := RegisterAllocated(128)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	defer mr.Release()

	rmr := Describe(mr)
	if rmr.Key != mr.Key() || rmr.Addr != mr.Addr() || rmr.Size != uint64(mr.Size()) {
		t.Errorf("Describe() = %+v, want {Addr:%d Size:%d Key:%d}", rmr, mr.Addr(), mr.Size(), mr.Key())
	}
}
