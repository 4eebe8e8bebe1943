// Package msgtype implements the message-type registry: a global,
// append-only table mapping a numeric tag to a triple of completion
// handlers, plus the bit-packing of (tag, wr_id) into the opaque
// work-request context the fabric hands back on completion.
//
// The registry mutex (grounded on
// coatyio-dda-examples/compute/registry/registry.go's Registry.Register
// shape) guards registration only; reads during dispatch never need to
// lock because entries are never mutated or removed once inserted.
package msgtype

import (
	"sync"

	"github.com/fabriclink/rdmatransport/ferrors"
)

// defaultShiftBits reserves the top 16 bits of the 64-bit work-request
// context for the tag, leaving 48 bits for wr_id. One shared shift per
// Registry is required: the polling loop must recover the tag from a
// fixed bit position before it knows which MessageType produced the
// completion, so the shift cannot vary per type within one registry.
const defaultShiftBits = 48

// MaxTag is the reserved "ignored" tag of a registry built with the default
// shift: the maximum representable value of its 16-bit tag. A registry built
// with NewRegistryWithShift reserves the maximum of its own tag width
// instead, reported by Ignored().Tag.
const MaxTag = uint64(1)<<(64-defaultShiftBits) - 1

// SendHandler is invoked when a post_send completes.
type SendHandler func(wrID uint64, success bool, length uint32, immediate uint32)

// ReceiveHandler is invoked when a post_recv completes.
type ReceiveHandler func(wrID uint64, success bool, length uint32, immediate uint32)

// WriteHandler is invoked when a post_write completes (only when posted
// with signaled=true).
type WriteHandler func(wrID uint64, success bool, length uint32, immediate uint32)

// MessageType is a caller-defined category of work request. Tags are
// assigned sequentially from zero by Registry.Register.
type MessageType struct {
	Tag       uint64
	Name      string
	ShiftBits uint // the registry's shared shift, recorded for validation
	OnSend    SendHandler
	OnReceive ReceiveHandler
	OnWrite   WriteHandler
}

// lowMask reports the bits available to wr_id for this type.
func (mt MessageType) lowMask() uint64 {
	return uint64(1)<<mt.ShiftBits - 1
}

// Pack combines this type's tag with wrID into the opaque context the
// fabric returns on completion. It returns ferrors.ErrInvalidArgs if wrID
// does not fit in the bits below the tag — wr_id must not collide with a
// type's tag bits.
func (mt MessageType) Pack(wrID uint64) (uint64, error) {
	if wrID > mt.lowMask() {
		return 0, ferrors.InvalidArgs("msgtype: wr_id %#x overlaps tag bits of type %q (tag=%d, shift=%d)", wrID, mt.Name, mt.Tag, mt.ShiftBits)
	}
	return (mt.Tag << mt.ShiftBits) | wrID, nil
}

// Unpack inverts Pack using the registry's shared shift, recovering
// (tag, wrID) without first knowing which MessageType produced ctx.
func Unpack(ctx uint64, shiftBits uint) (tag uint64, wrID uint64) {
	mask := uint64(1)<<shiftBits - 1
	return ctx >> shiftBits, ctx & mask
}

// Registry is the append-only table of registered MessageTypes, protected
// by a mutex during Register and read lock-free during dispatch.
type Registry struct {
	shiftBits uint
	mu        sync.Mutex
	byTag     []MessageType // index i holds the type with Tag == i
	ignored   MessageType
}

// NewRegistry returns an empty registry using the default shift (48 bits
// of wr_id, 16 bits of tag).
func NewRegistry() *Registry {
	return NewRegistryWithShift(defaultShiftBits)
}

// NewRegistryWithShift returns an empty registry using a caller-chosen
// shift, for deployments that need a larger tag space than the 65535
// default allows (at the cost of a smaller wr_id range).
func NewRegistryWithShift(shiftBits uint) *Registry {
	r := &Registry{shiftBits: shiftBits}
	maxTag := uint64(1)<<(64-shiftBits) - 1
	r.ignored = MessageType{
		Tag:       maxTag,
		Name:      "ignored",
		ShiftBits: shiftBits,
		OnSend:    func(uint64, bool, uint32, uint32) {},
		OnReceive: func(uint64, bool, uint32, uint32) {},
		OnWrite:   func(uint64, bool, uint32, uint32) {},
	}
	return r
}

// ShiftBits reports the registry's shared shift.
func (r *Registry) ShiftBits() uint { return r.shiftBits }

// Register atomically appends a new MessageType and returns it with its
// assigned tag. Tags are assigned sequentially from zero.
func (r *Registry) Register(name string, onSend SendHandler, onReceive ReceiveHandler, onWrite WriteHandler) (MessageType, error) {
	if onSend == nil {
		onSend = func(uint64, bool, uint32, uint32) {}
	}
	if onReceive == nil {
		onReceive = func(uint64, bool, uint32, uint32) {}
	}
	if onWrite == nil {
		onWrite = func(uint64, bool, uint32, uint32) {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tag := uint64(len(r.byTag))
	if tag >= r.ignored.Tag {
		return MessageType{}, ferrors.InvalidArgs("msgtype: registry exhausted its tag space (max %d types)", r.ignored.Tag)
	}
	mt := MessageType{
		Tag:       tag,
		Name:      name,
		ShiftBits: r.shiftBits,
		OnSend:    onSend,
		OnReceive: onReceive,
		OnWrite:   onWrite,
	}
	r.byTag = append(r.byTag, mt)
	return mt, nil
}

// Ignored returns the sentinel type whose handlers are no-ops and whose
// tag is the registry's maximum tag (MaxTag under the default shift). The
// polling loop drops MaxTag completions without a lookup; under any other
// shift, ByTag resolves the sentinel and its no-op handlers run.
func (r *Registry) Ignored() MessageType { return r.ignored }

// ByTag looks up a previously registered type. It never locks: byTag is
// append-only and entries are immutable after insertion, so a concurrent
// Register that grows the slice cannot race with an index read into the
// unchanged prefix.
func (r *Registry) ByTag(tag uint64) (MessageType, bool) {
	if tag == r.ignored.Tag {
		return r.ignored, true
	}
	if tag >= uint64(len(r.byTag)) {
		return MessageType{}, false
	}
	return r.byTag[tag], true
}
