// Package eventpoll implements the shared EFCT event queue (used for TX
// completion notification) and the poll dispatch specializations that pick
// the cheapest strategy for a VI's actual queue topology: one RX queue
// alone, one RX/TX pair, or the fully general multi-queue case.
package eventpoll

import (
	"vicore/internal/ringstate"
	"vicore/internal/verrors"
)

// Event word bit layout: bit 0 is the phase sentinel (checked against
// ringstate.ExpectedPhase, not part of the decoded value below); bits
// [8:1] carry the event type; bits [16:8] the originating queue id; bits
// [48:16] a 32-bit payload (a TX completion sequence number, today).
const (
	wordPhaseShift = 0

	wordTypeShift = 1
	wordTypeBits  = 7
	wordTypeMask  = uint64(1)<<wordTypeBits - 1

	wordQueueShift = wordTypeShift + wordTypeBits // 8
	wordQueueBits  = 8
	wordQueueMask  = uint64(1)<<wordQueueBits - 1

	wordPayloadShift = wordQueueShift + wordQueueBits // 16
	wordPayloadBits  = 32
	wordPayloadMask  = uint64(1)<<wordPayloadBits - 1
)

// Event types.
const (
	EventTypeTXComplete uint8 = iota
)

// EncodeTXCompletionEvent builds the raw event word a simulated NIC writes
// for a TX completion on queueID carrying sequence number seq. The phase
// bit is not part of this encoding: Publish fills it in from the slot
// position, since only the writer's position (not the event content)
// determines which phase a slot expects.
func EncodeTXCompletionEvent(queueID uint8, seq uint32) uint64 {
	word := uint64(EventTypeTXComplete) << wordTypeShift
	word |= uint64(queueID) << wordQueueShift
	word |= uint64(seq) << wordPayloadShift
	return word
}

// DecodeEvent splits a raw event word (as returned by Next, with the phase
// bit already consumed) into its type, originating queue, and payload.
func DecodeEvent(word uint64) (eventType uint8, queueID uint8, payload uint32) {
	return uint8((word >> wordTypeShift) & wordTypeMask),
		uint8((word >> wordQueueShift) & wordQueueMask),
		uint32((word >> wordPayloadShift) & wordPayloadMask)
}

// EventQueue is the consumer side of one VI's shared EFCT event ring: a
// monotonic byte pointer plus a phase-bit sentinel check, exactly the
// pattern ringstate.EventPtr/ExpectedPhase exist for.
type EventQueue struct {
	ptr           ringstate.EventPtr
	capacityBytes uint32
	words         []uint64 // backing memory; one event per 8 bytes
}

// wordSize is the fixed size in bytes of one event record.
const wordSize = 8

// NewEventQueue wraps backing (length a power of two) as an event queue.
// Every backing word gets its phase bit set, so slots not yet written read
// as not valid on the first lap, whose expected phase is 0.
func NewEventQueue(backing []uint64) (*EventQueue, error) {
	n := len(backing)
	if n == 0 || n&(n-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "eventpoll: event queue capacity must be a non-zero power of two")
	}
	for i := range backing {
		backing[i] |= uint64(1) << wordPhaseShift
	}
	return &EventQueue{capacityBytes: uint32(n * wordSize), words: backing}, nil
}

// Publish writes word at the current producer-simulated slot and the
// correct phase bit for that slot, standing in for the NIC's side of the
// event ring. Used by tests and the control-plane simulation, not by real
// consumers.
func (q *EventQueue) Publish(atPtr uint32, word uint64) {
	slot := (atPtr / wordSize) & uint32(len(q.words)-1)
	word &^= uint64(1) << wordPhaseShift
	if ringstate.ExpectedPhase(atPtr, q.capacityBytes) {
		word |= 1 << wordPhaseShift
	}
	q.words[slot] = word
}

// Next returns the next event if its phase bit matches the pointer's
// expected phase, advancing the pointer past it. ok is false if no new
// event is available yet (the slot still carries the previous lap's
// phase). Before returning a new event, it checks that the immediately
// preceding slot still reads as consumed (its phase is the one expected
// for that position, not a later lap's already written over it);
// otherwise the producer has wrapped the ring before this consumer caught
// up, and Next reports ErrHardwareProtocolViolation instead of an event
// (spec.md §4.6/§7, mirroring the original's
// BUG_ON(efct_tx_get_event(vi, evq->evq_ptr - sizeof(*event)) == NULL)).
func (q *EventQueue) Next() (word uint64, ok bool, err error) {
	ptr := q.ptr.Value()
	slot := (ptr / wordSize) & uint32(len(q.words)-1)
	raw := q.words[slot]
	expected := ringstate.ExpectedPhase(ptr, q.capacityBytes)
	if (raw&1 != 0) != expected {
		return 0, false, nil
	}
	if ptr >= wordSize {
		prevPtr := ptr - wordSize
		prevSlot := (prevPtr / wordSize) & uint32(len(q.words)-1)
		prevExpected := ringstate.ExpectedPhase(prevPtr, q.capacityBytes)
		if (q.words[prevSlot]&1 != 0) != prevExpected {
			return 0, false, verrors.Wrap(verrors.ErrHardwareProtocolViolation,
				"eventpoll: event ring overrun: previous slot no longer holds its expected phase")
		}
	}
	q.ptr.Advance(wordSize)
	return raw &^ 1, true, nil
}

// HasPending reports whether a new event is available at the current
// pointer position, without consuming it: the TX half of spec.md §4.6's
// check_event predicate.
func (q *EventQueue) HasPending() bool {
	ptr := q.ptr.Value()
	slot := (ptr / wordSize) & uint32(len(q.words)-1)
	expected := ringstate.ExpectedPhase(ptr, q.capacityBytes)
	return (q.words[slot]&1 != 0) == expected
}

// Clear advances the pointer by stride bytes without checking or consuming
// events, the EF_VI_EVQ_CLEAR_STRIDE behavior: some deployments pre-clear
// a run of event slots the NIC is known to have already overwritten,
// trading a missed spurious check for fewer phase comparisons per poll.
func (q *EventQueue) Clear(stride uint32) {
	q.ptr.Advance(stride)
}

// Pointer exposes the raw byte pointer, used by tests and stats.
func (q *EventQueue) Pointer() uint32 { return q.ptr.Value() }
