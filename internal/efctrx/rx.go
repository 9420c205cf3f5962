// Package efctrx implements the EFCT receive engine: the per-RX-queue
// state machine that walks packets within a superbuffer using phase-bit
// sentinels, rolls over between superbuffers, refreshes mappings on
// configuration-generation change, and emits RX events with packet
// identifiers.
package efctrx

import (
	"errors"

	"vicore/internal/efcthdr"
	"vicore/internal/pktid"
	"vicore/internal/superbuf"
	"vicore/internal/verrors"
)

// Event is one emitted RX completion.
type Event struct {
	QueueID uint8
	RQID    pktid.ID // the packet id of the packet this event reports on
	Len     uint16
	SOP     bool // start-of-packet; always true, this core never fragments
	Offset  uint16
}

// rxPtr packs the two fields the original ad-hoc top-bit-carries next
// pointer represents, as two named fields instead (spec.md §9 Design
// Notes).
type rxPtr struct {
	index  uint16
	phase  bool
	raw    pktid.ID // the full id (rxq, superbuf, index) this pointer currently names
}

// Queue is one attached EFCT RX queue's poll state.
type Queue struct {
	id           uint8
	pool         *superbuf.Pool
	memory       MemorySource
	packetsPerSB uint16
	maxSuperbufs uint16

	next rxPtr
	prev rxPtr

	started bool // true once the first rollover (startup sentinel) has run
}

// MemorySource resolves a packet id to the bytes of its header+payload
// region, standing in for the multiplication-based address computation the
// real superbuffer VA window affords (spec.md §4.1 closing paragraph).
// Implementations index into whatever backs the superbuffer VA window for
// this queue.
type MemorySource interface {
	// Header returns the header+payload region of the packet named by id,
	// beginning with its HeaderSize-byte metadata header.
	Header(id pktid.ID) ([]byte, error)
}

// NewQueue constructs a Queue. packetsPerSB must be > 0 (spec.md §3's
// "active flag derived from packets-per-superbuffer != 0"); maxSuperbufs
// bounds the superbuffer index field used when constructing packet ids.
func NewQueue(id uint8, pool *superbuf.Pool, memory MemorySource, packetsPerSB, maxSuperbufs uint16) (*Queue, error) {
	if packetsPerSB == 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "efctrx: packets-per-superbuffer must be nonzero")
	}
	q := &Queue{id: id, pool: pool, memory: memory, packetsPerSB: packetsPerSB, maxSuperbufs: maxSuperbufs}
	// Seed next.index one past packets-per-superbuffer to force an initial
	// rollover with "ignore first metadata slot" semantics (spec.md §4.7
	// attach_rxq).
	q.next = rxPtr{index: packetsPerSB + 1}
	return q, nil
}

// Active reports whether this queue has a nonzero packets-per-superbuffer,
// i.e. is usable (spec.md §3 RX queue descriptor).
func (q *Queue) Active() bool { return q.packetsPerSB != 0 }

// Poll emits up to max RX events into out, returning the count emitted.
// Rollover and refresh failures are non-fatal: poll returns whatever count
// it already has. The data plane never logs or allocates here.
func (q *Queue) Poll(out []Event) (int, error) {
	n := 0
	for n < len(out) {
		if q.needsRollover() {
			if err := q.rollover(); err != nil {
				if isWouldBlock(err) {
					return n, nil
				}
				return n, err
			}
			continue
		}

		needsRefresh, err := q.pool.NeedsRefresh()
		if err != nil {
			return n, nil // control-plane error: yield what we have, retry later
		}
		if needsRefresh {
			if err := q.pool.Refresh(nil, int(q.maxSuperbufs)); err != nil {
				return n, nil
			}
		}

		hdr, err := q.memory.Header(q.next.raw)
		if err != nil {
			return n, err
		}
		rx, err := efcthdr.DecodeRXHeader(hdr)
		if err != nil {
			return n, err
		}
		if rx.SentinelPhase != q.next.phase {
			// No packet yet at this slot.
			return n, nil
		}
		if rx.NextFrameOffset != efcthdr.FixedNextFrameOffset {
			return n, verrors.Wrap(verrors.ErrHardwareProtocolViolation, "efctrx: next-frame-offset not at fixed layout value")
		}

		out[n] = Event{
			QueueID: q.id,
			RQID:    q.prev.raw,
			Len:     rx.PacketLength,
			SOP:     true,
			Offset:  efcthdr.PayloadOffset,
		}
		n++

		q.prev = q.next
		q.next = q.advance(q.next)
	}
	return n, nil
}

// needsRollover reports whether the next packet index has run past the
// current superbuffer. The startup case (seeded index ==
// packets_per_superbuf+1) uses strict greater-than; every later rollover
// uses >=. This asymmetry is load-bearing and preserved verbatim rather
// than folded into one comparison (spec.md §9 open question #1).
func (q *Queue) needsRollover() bool {
	if !q.started {
		return q.next.index > q.packetsPerSB
	}
	return q.next.index >= q.packetsPerSB
}

// rollover acquires a new superbuffer from the pool and repositions next
// (and, on the startup path, prev) to the start of it.
func (q *Queue) rollover() error {
	raw, err := q.pool.Next()
	if err != nil {
		return err
	}
	sbid, phase := superbuf.DecodeFillEntry(raw)
	q.pool.PreloadRefcount(sbid)

	start := rxPtr{index: 0, phase: phase, raw: pktid.New(q.id, sbid, 0)}

	if !q.started {
		// Startup sentinel: the seeded next.index told us to ignore the
		// first metadata slot entirely, so prev lands on index 0 of the new
		// superbuffer and next is advanced straight to index 1, where the
		// real walk begins.
		q.prev = start
		q.next = q.advance(start)
		q.started = true
		return nil
	}

	q.next = start
	return nil
}

// advance returns p stepped forward by one packet index within the same
// superbuffer (no wraparound handling here; needsRollover catches that on
// the next iteration).
func (q *Queue) advance(p rxPtr) rxPtr {
	idx := p.index + 1
	return rxPtr{index: idx, phase: p.phase, raw: p.raw.WithIndex(idx)}
}

// Release implements RxEngine.release: decrements the refcount of the
// superbuffer referenced by id; if it reaches zero the superbuffer returns
// to the free ring.
func (q *Queue) Release(id pktid.ID) error {
	return q.pool.Release(id.Superbuf())
}

// Get implements RxEngine.get: returns the payload bytes for id, i.e. the
// region MemorySource.Header resolves for id with the fixed payload offset
// already skipped (MemorySource stands in for the multiplication the real
// VA window affords).
func (q *Queue) Get(id pktid.ID) ([]byte, error) {
	hdr, err := q.memory.Header(id)
	if err != nil {
		return nil, err
	}
	return hdr[efcthdr.PayloadOffset:], nil
}

// HasPending reports whether a packet is ready at the queue's current read
// position, without consuming it: the RX half of spec.md §4.6's
// check_event predicate. A rollover pending at this position is reported
// as not-yet-ready, since this is meant to be a cheap peek and must not
// perform the rollover itself.
func (q *Queue) HasPending() (bool, error) {
	if q.needsRollover() {
		return false, nil
	}
	hdr, err := q.memory.Header(q.next.raw)
	if err != nil {
		return false, err
	}
	rx, err := efcthdr.DecodeRXHeader(hdr)
	if err != nil {
		return false, err
	}
	return rx.SentinelPhase == q.next.phase, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, verrors.ErrWouldBlock)
}
