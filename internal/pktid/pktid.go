// Package pktid defines the opaque RX packet identifier encoding shared by
// SuperbufPool, RxEngine, and the VI controller. Bit 31 is never treated
// as part of the address fields the type exposes; callers that want to
// cache the sentinel phase in that bit use WithSentinelHint/SentinelHint
// explicitly instead of the core silently overloading it (spec.md §9
// Design Notes).
package pktid

const (
	indexBits     = 16
	superbufBits  = 10
	rxqBits       = 3

	indexShift    = 0
	superbufShift = indexShift + indexBits    // 16
	rxqShift      = superbufShift + superbufBits // 26

	indexMask    = uint32(1)<<indexBits - 1
	superbufMask = uint32(1)<<superbufBits - 1
	rxqMask      = uint32(1)<<rxqBits - 1

	sentinelHintShift = 31
	fieldsMask        = uint32(1)<<sentinelHintShift - 1
)

// ID is an opaque 32-bit RX packet identifier: bits [15:0] index within
// superbuffer, bits [25:16] global superbuffer index, bits [28:26] RX-queue
// index within the VI. Bit 31 carries no meaning to ID's own field
// accessors; it is reserved for the optional sentinel hint.
type ID uint32

// New builds a packet id from its three address fields. Values exceeding a
// field's width are truncated to it, matching the C source's bitfield
// packing (no error path exists on the hardware encode side, since these
// fields are always derived from bounded ring arithmetic upstream).
func New(rxq uint8, superbuf uint16, index uint16) ID {
	v := (uint32(index) & indexMask) << indexShift
	v |= (uint32(superbuf) & superbufMask) << superbufShift
	v |= (uint32(rxq) & rxqMask) << rxqShift
	return ID(v)
}

// Index returns the packet's index within its superbuffer.
func (p ID) Index() uint16 { return uint16((uint32(p) >> indexShift) & indexMask) }

// Superbuf returns the packet's global superbuffer index.
func (p ID) Superbuf() uint16 { return uint16((uint32(p) >> superbufShift) & superbufMask) }

// RXQueue returns the RX queue index the packet belongs to.
func (p ID) RXQueue() uint8 { return uint8((uint32(p) >> rxqShift) & rxqMask) }

// WithIndex returns a copy of p with its index field replaced, used by
// poll's prev/next advance.
func (p ID) WithIndex(index uint16) ID {
	return ID((uint32(p) &^ (indexMask << indexShift)) | (uint32(index)&indexMask)<<indexShift)
}

// WithSentinelHint returns a copy of p with the optional sentinel-phase bit
// (bit 31) set to phase. This is the only sanctioned way to touch that bit;
// Index/Superbuf/RXQueue never observe it.
func (p ID) WithSentinelHint(phase bool) ID {
	v := uint32(p) & fieldsMask
	if phase {
		v |= 1 << sentinelHintShift
	}
	return ID(v)
}

// SentinelHint returns the optional sentinel-phase bit previously set by
// WithSentinelHint.
func (p ID) SentinelHint() bool {
	return uint32(p)>>sentinelHintShift != 0
}

// Raw returns the underlying uint32 encoding, for logging/metrics labels.
func (p ID) Raw() uint32 { return uint32(p) }
