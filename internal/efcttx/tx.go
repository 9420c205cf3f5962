// Package efcttx implements the EFCT CTPIO transmit engine: the aperture
// writer (framing header, bytewise fill with 64-bit aligned bursts,
// pad-to-alignment) and TX completion-sequence reconciliation.
package efcttx

import (
	"vicore/internal/efcthdr"
	"vicore/internal/pktid"
	"vicore/internal/ringstate"
	"vicore/internal/verrors"
)

// completionSeqBits is the width of the inclusive, wrapping sequence
// counter TX completion events carry (spec.md §4.4: "a 5-bit-ish sequence
// counter").
const (
	completionSeqBits = 5
	completionSeqMask = uint32(1)<<completionSeqBits - 1
)

// Event is one emitted TX completion.
type Event struct {
	QueueID uint8
	DescID  uint32 // the reclaimed descriptor-ring position (== new previous)
}

// descriptor records what transmit wrote for one descriptor-ring slot.
type descriptor struct {
	len   uint32
	dmaID pktid.ID
}

// Queue is one EFCT CTPIO TX queue.
type Queue struct {
	id   uint8
	mask uint32

	aperture     []byte // apertureSize bytes; see writeAt for the wrap simulation
	apertureSize uint32

	state ringstate.TxState
	desc  []descriptor
}

// NewQueue constructs a Queue with a descriptor ring of capacity (power of
// two) and a CTPIO aperture of apertureSize bytes (also a power of two,
// this transport's FIFO capacity).
func NewQueue(id uint8, capacity int, apertureSize uint32) (*Queue, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "efcttx: descriptor ring capacity must be a power of two")
	}
	if apertureSize == 0 || apertureSize&(apertureSize-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "efcttx: aperture size must be a power of two")
	}
	return &Queue{
		id:           id,
		mask:         uint32(capacity - 1),
		aperture:     make([]byte, apertureSize),
		apertureSize: apertureSize,
		desc:         make([]descriptor, capacity),
	}, nil
}

// SpaceBytes returns how many bytes of CTPIO aperture capacity remain
// (ef_vi_transmit_space_bytes).
func (q *Queue) SpaceBytes() uint32 {
	return q.apertureSize - (q.state.CTAdded() - q.state.CTRemoved())
}

// descRingFull reports whether the descriptor ring itself (distinct from
// aperture byte capacity) has no free slots.
func (q *Queue) descRingFull() bool {
	return q.state.Added()-q.state.Removed() > q.mask
}

// Transmit writes hdr's CTPIO framing header followed by payload into the
// aperture, records the descriptor, and advances the rolling aperture byte
// offset. Returns ErrWouldBlock if there is not enough aperture space or
// descriptor-ring capacity for this packet.
func (q *Queue) Transmit(hdr efcthdr.TXHeader, payload []byte, dmaID pktid.ID) error {
	total := efcthdr.RoundUp64(uint32(efcthdr.HeaderSize + len(payload)))
	if total > q.SpaceBytes() || q.descRingFull() {
		return verrors.ErrWouldBlock
	}

	pos := q.state.CTAdded() % q.apertureSize
	headerBuf := make([]byte, efcthdr.HeaderSize)
	hdr.PacketLength = uint16(len(payload))
	if err := efcthdr.EncodeTXHeader(headerBuf, hdr); err != nil {
		return err
	}
	q.writeAt(pos, headerBuf)
	q.writeAt(pos+efcthdr.HeaderSize, payload)
	padStart := pos + efcthdr.HeaderSize + uint32(len(payload))
	if pad := total - uint32(efcthdr.HeaderSize+len(payload)); pad > 0 {
		q.writeAt(padStart, make([]byte, pad))
	}

	added := q.state.Added()
	slot := added & q.mask
	q.desc[slot] = descriptor{len: total, dmaID: dmaID}
	q.state.AddCTAdded(total)
	q.state.SetAdded(added + 1)
	return nil
}

// TransmitCTPIO is transmitv_ctpio: identical framing, but ctThreshBytes is
// given in bytes and converted to 64-byte units, clamping to CTDisable if
// it would not fit the field (spec.md §4.4, §9 open question #2). Uses a
// caller-supplied sentinel dma id since CTPIO has no fallback-buffer id.
func (q *Queue) TransmitCTPIO(ctThreshBytes uint32, timestamp, warm bool, payload []byte, sentinelDMAID pktid.ID) error {
	hdr := efcthdr.TXHeader{
		CTThresh:      efcthdr.CTThreshFromBytes(ctThreshBytes),
		TimestampFlag: timestamp,
		WarmFlag:      warm,
	}
	return q.Transmit(hdr, payload, sentinelDMAID)
}

// writeAt copies src into the aperture starting at byte offset pos,
// wrapping around apertureSize. This is the software-visible effect of the
// real hardware's double-mapped aperture (map the same physical region
// twice, contiguously, so CPU writes never need wrap logic): there is no
// second physical mapping to alias in this simulated, single-address-space
// implementation, so the wrap is made explicit here instead.
func (q *Queue) writeAt(pos uint32, src []byte) {
	pos %= q.apertureSize
	n := copy(q.aperture[pos:], src)
	if n < len(src) {
		copy(q.aperture, src[n:])
	}
}

// HandleCompletion reconciles a TX completion event carrying an inclusive,
// wrapping sequence number. It advances `previous` until
// (previous & seqMask) == (seq+1) & seqMask, reclaiming the byte length of
// every descriptor slot stepped over into ct_removed, and returns one
// event describing the whole reclaimed run. Associative: handling N
// completions one at a time yields the same (previous, ct_removed) as
// merging them, since each step only depends on the descriptor it reclaims.
func (q *Queue) HandleCompletion(seq uint32) Event {
	target := (seq + 1) & completionSeqMask
	for q.state.Previous()&completionSeqMask != target {
		prev := q.state.Previous()
		q.state.AddCTRemoved(q.desc[prev&q.mask].len)
		q.state.SetPrevious(prev + 1)
	}
	return Event{QueueID: q.id, DescID: q.state.Previous()}
}

// DescLen returns the recorded byte length for descriptor-ring slot i,
// exported for tests validating the round-up-to-64 invariant.
func (q *Queue) DescLen(i uint32) uint32 { return q.desc[i&q.mask].len }

// ID returns the queue id this Queue was constructed with.
func (q *Queue) ID() uint8 { return q.id }

// CTAdded and CTRemoved expose the rolling aperture byte counters, used by
// tests and metrics.
func (q *Queue) CTAdded() uint32   { return q.state.CTAdded() }
func (q *Queue) CTRemoved() uint32 { return q.state.CTRemoved() }
func (q *Queue) Previous() uint32  { return q.state.Previous() }
