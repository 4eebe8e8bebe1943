// Package memregion implements the memory-region registry and the plain
// remote descriptor used to name one-sided write targets
// (RemoteMemoryRegion).
//
// The "sockets" fabric provider has no real NIC page tables, so
// registration assigns a synthetic remote key and virtual address and
// publishes them into a process-local key→region table — the software
// stand-in for the role a real NIC's page tables play. A peer's post_write
// resolves its target through Lookup.
package memregion

import (
	"sync"
	"sync/atomic"

	"github.com/fabriclink/rdmatransport/ferrors"
)

var (
	nextKey  uint64 // atomically incremented, first assigned key is 1
	nextAddr uint64 // atomically incremented by each region's size

	tableMu sync.RWMutex
	table   = make(map[uint64]*MemoryRegion)
)

// MemoryRegion is a registered byte buffer, valid for local and remote
// access for as long as it is held.
type MemoryRegion struct {
	buf   []byte
	key   uint64
	addr  uint64
	owned bool

	releaseOnce sync.Once
}

// Register registers buffer for local write and remote read/write access.
// It returns ferrors.ErrInvalidArgs if buffer is nil or size is 0.
func Register(buffer []byte) (*MemoryRegion, error) {
	if buffer == nil {
		return nil, ferrors.InvalidArgs("memregion: buffer is nil")
	}
	if len(buffer) == 0 {
		return nil, ferrors.InvalidArgs("memregion: buffer size is 0")
	}
	return register(buffer, false)
}

// RegisterAllocated allocates an owned buffer of size bytes and registers
// it.
func RegisterAllocated(size int) (*MemoryRegion, error) {
	if size <= 0 {
		return nil, ferrors.InvalidArgs("memregion: size %d must be > 0", size)
	}
	return register(make([]byte, size), true)
}

func register(buffer []byte, owned bool) (*MemoryRegion, error) {
	key := atomic.AddUint64(&nextKey, 1)
	addr := atomic.AddUint64(&nextAddr, uint64(len(buffer))) - uint64(len(buffer))

	mr := &MemoryRegion{buf: buffer, key: key, addr: addr, owned: owned}

	tableMu.Lock()
	table[key] = mr
	tableMu.Unlock()

	return mr, nil
}

// Key returns the provider-assigned remote key, stable for the region's
// lifetime.
func (mr *MemoryRegion) Key() uint64 { return mr.key }

// Addr returns the region's synthetic local virtual address, used as the
// remote-write target address when the provider reports FI_MR_VIRT_ADDR.
func (mr *MemoryRegion) Addr() uint64 { return mr.addr }

// Size returns the buffer length.
func (mr *MemoryRegion) Size() int { return len(mr.buf) }

// Buffer returns the underlying byte slice. The owner may mutate it, but
// must not do so while an RMA operation is in flight against it.
func (mr *MemoryRegion) Buffer() []byte { return mr.buf }

// Release deregisters the region. It is safe to call more than once; only
// the first call has effect.
func (mr *MemoryRegion) Release() {
	mr.releaseOnce.Do(func() {
		tableMu.Lock()
		delete(table, mr.key)
		tableMu.Unlock()
	})
}

// Lookup resolves a remote key to the locally registered region it names,
// for a peer's incoming post_write to apply against. It returns false if
// the key is unknown or has been released.
func Lookup(key uint64) (*MemoryRegion, bool) {
	tableMu.RLock()
	defer tableMu.RUnlock()
	mr, ok := table[key]
	return mr, ok
}

// RemoteMemoryRegion is a plain, immutable descriptor naming the target of
// a remote write: the peer's virtual address, length, and remote key.
type RemoteMemoryRegion struct {
	Addr uint64
	Size uint64
	Key  uint64
}

// Describe returns the RemoteMemoryRegion a peer would use to target mr.
func Describe(mr *MemoryRegion) RemoteMemoryRegion {
	return RemoteMemoryRegion{Addr: mr.Addr(), Size: uint64(mr.Size()), Key: mr.Key()}
}
