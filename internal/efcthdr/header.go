// Package efcthdr encodes and decodes the two 8-byte hardware header
// formats the EFCT transport deals in: the RX packet metadata header the
// NIC writes ahead of every received packet, and the CTPIO TX framing
// header the core writes ahead of every transmitted packet. Both are fixed
// 64-bit little-endian words; bit positions are this binary's own
// convention (spec.md notes the layout is "not stable ABI but fixed within
// a binary").
package efcthdr

import (
	"encoding/binary"

	"vicore/internal/verrors"
)

const (
	// HeaderSize is the size in bytes of both header formats.
	HeaderSize = 8

	// PayloadOffset is the fixed byte offset from the start of the header
	// to the start of packet payload.
	PayloadOffset = HeaderSize
)

// RX metadata header bit layout.
const (
	rxPhaseShift  = 0
	rxLengthShift = 1
	rxLengthBits  = 14
	rxLengthMask  = 1<<rxLengthBits - 1

	rxNextFrameOffsetShift = rxLengthShift + rxLengthBits // 15
	rxNextFrameOffsetBits  = 2
	rxNextFrameOffsetMask  = (uint64(1) << rxNextFrameOffsetBits) - 1

	// FixedNextFrameOffset is the only next-frame-offset value the core
	// accepts; any other value indicates the hardware protocol framing
	// has drifted out of the layout this binary was built against.
	FixedNextFrameOffset = 0
)

// RXHeader is the decoded form of the 8-byte RX packet metadata header.
type RXHeader struct {
	SentinelPhase    bool
	PacketLength     uint16
	NextFrameOffset  uint8
}

// DecodeRXHeader reads an RX metadata header from the 8 bytes at the start
// of b. b must be at least HeaderSize bytes.
func DecodeRXHeader(b []byte) (RXHeader, error) {
	if len(b) < HeaderSize {
		return RXHeader{}, verrors.Wrap(verrors.ErrInvalidArgument, "rx header: short buffer")
	}
	word := binary.LittleEndian.Uint64(b)
	return RXHeader{
		SentinelPhase:   (word>>rxPhaseShift)&1 != 0,
		PacketLength:    uint16((word >> rxLengthShift) & rxLengthMask),
		NextFrameOffset: uint8((word >> rxNextFrameOffsetShift) & rxNextFrameOffsetMask),
	}, nil
}

// EncodeRXHeader writes h into the 8 bytes at the start of b, as a
// simulated NIC would. Used by the control-plane simulation and tests.
func EncodeRXHeader(b []byte, h RXHeader) error {
	if len(b) < HeaderSize {
		return verrors.Wrap(verrors.ErrInvalidArgument, "rx header: short buffer")
	}
	if h.PacketLength > rxLengthMask {
		return verrors.Wrap(verrors.ErrInvalidArgument, "rx header: packet length exceeds field width")
	}
	var word uint64
	if h.SentinelPhase {
		word |= 1 << rxPhaseShift
	}
	word |= uint64(h.PacketLength) << rxLengthShift
	word |= uint64(h.NextFrameOffset&uint8(rxNextFrameOffsetMask)) << rxNextFrameOffsetShift
	binary.LittleEndian.PutUint64(b, word)
	return nil
}

// CTPIO TX framing header bit layout.
const (
	txLengthShift = 0
	txLengthBits  = 14
	txLengthMask  = (uint64(1) << txLengthBits) - 1

	txCTThreshShift = txLengthShift + txLengthBits // 14
	txCTThreshBits  = 6
	txCTThreshMask  = (uint64(1) << txCTThreshBits) - 1

	txTimestampShift = txCTThreshShift + txCTThreshBits // 20
	txWarmShift      = txTimestampShift + 1             // 21
	txActionShift    = txWarmShift + 1                  // 22
	txActionBits     = 2
	txActionMask     = (uint64(1) << txActionBits) - 1

	// CTDisable is the sentinel ct_thresh value meaning "cut-through
	// disabled"; oversized thresholds clamp to this rather than erroring
	// (spec.md Design Notes open question #2).
	CTDisable = uint8(txCTThreshMask)
)

// TXHeader is the decoded form of the 8-byte CTPIO framing header.
type TXHeader struct {
	PacketLength  uint16
	CTThresh      uint8 // 64-byte units; CTDisable means no cut-through
	TimestampFlag bool
	WarmFlag      bool
	Action        uint8
}

// EncodeTXHeader writes h's framing header into the first HeaderSize bytes
// of b. CTThresh is clamped to CTDisable if it would not fit the field;
// every other oversized field is a hardware-protocol-violation, since only
// the cut-through threshold has defined clamp semantics (spec.md §9).
func EncodeTXHeader(b []byte, h TXHeader) error {
	if len(b) < HeaderSize {
		return verrors.Wrap(verrors.ErrInvalidArgument, "tx header: short buffer")
	}
	if uint64(h.PacketLength) > txLengthMask {
		return verrors.Wrap(verrors.ErrHardwareProtocolViolation, "tx header: packet length exceeds field width")
	}
	if uint64(h.Action) > txActionMask {
		return verrors.Wrap(verrors.ErrHardwareProtocolViolation, "tx header: action exceeds field width")
	}
	ctThresh := h.CTThresh
	if uint64(ctThresh) > txCTThreshMask {
		ctThresh = CTDisable
	}

	var word uint64
	word |= uint64(h.PacketLength) << txLengthShift
	word |= uint64(ctThresh) << txCTThreshShift
	if h.TimestampFlag {
		word |= 1 << txTimestampShift
	}
	if h.WarmFlag {
		word |= 1 << txWarmShift
	}
	word |= uint64(h.Action) << txActionShift
	binary.LittleEndian.PutUint64(b, word)
	return nil
}

// DecodeTXHeader reads a CTPIO framing header back out of b, used by tests
// to round-trip what EncodeTXHeader wrote.
func DecodeTXHeader(b []byte) (TXHeader, error) {
	if len(b) < HeaderSize {
		return TXHeader{}, verrors.Wrap(verrors.ErrInvalidArgument, "tx header: short buffer")
	}
	word := binary.LittleEndian.Uint64(b)
	return TXHeader{
		PacketLength:  uint16((word >> txLengthShift) & txLengthMask),
		CTThresh:      uint8((word >> txCTThreshShift) & txCTThreshMask),
		TimestampFlag: (word>>txTimestampShift)&1 != 0,
		WarmFlag:      (word>>txWarmShift)&1 != 0,
		Action:        uint8((word >> txActionShift) & txActionMask),
	}, nil
}

// CTThreshFromBytes converts a cut-through threshold given in bytes to the
// 64-byte-unit field value transmitv_ctpio expects (spec.md §4.4), clamping
// to CTDisable if the byte value does not fit after the shift.
func CTThreshFromBytes(bytes uint32) uint8 {
	units := bytes >> 6
	if uint64(units) > txCTThreshMask {
		return CTDisable
	}
	return uint8(units)
}

// RoundUp64 rounds n up to the next multiple of 64, the CTPIO alignment
// (EFCT_TX_ALIGNMENT).
func RoundUp64(n uint32) uint32 {
	const alignment = 64
	return (n + alignment - 1) &^ (alignment - 1)
}
