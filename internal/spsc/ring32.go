// Package spsc implements the single-producer/single-consumer ring of
// 32-bit ids that every shared exchange in this module is built from: the
// EFCT fill/free rings and the four AF_XDP rings are all instances of this
// same shape (power-of-two capacity, monotonic counters masked on access).
package spsc

import (
	"vicore/internal/ringstate"
	"vicore/internal/verrors"
)

// Ring32 is a fixed-capacity SPSC ring of uint32 values. The backing slice
// is caller-provided so it can alias shared (mmap'd, in this module's case
// simulated) memory; Ring32 itself only manages the producer/consumer
// counters and the push/pop mechanics.
type Ring32 struct {
	ringstate.Counters
	slots []uint32
	mask  uint32
}

// NewRing32 wraps backing (len(backing) must be a power of two) as an SPSC
// ring. Returns ErrInvalidArgument if the length is not a power of two.
func NewRing32(backing []uint32) (*Ring32, error) {
	n := len(backing)
	if n == 0 || n&(n-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "ring capacity must be a non-zero power of two")
	}
	return &Ring32{slots: backing, mask: uint32(n - 1)}, nil
}

// Cap returns the ring's capacity.
func (r *Ring32) Cap() uint32 { return uint32(len(r.slots)) }

// Push enqueues v as the producer. Returns ErrWouldBlock if the ring is
// full (added-removed == capacity).
func (r *Ring32) Push(v uint32) error {
	added, removed := r.Added(), r.Removed()
	if added-removed >= r.Cap() {
		return verrors.ErrWouldBlock
	}
	r.slots[added&r.mask] = v
	r.SetAdded(added + 1) // store acts as the write barrier publishing the slot
	return nil
}

// Pop dequeues the oldest value as the consumer. Returns ErrWouldBlock if
// the ring is empty (added == removed).
func (r *Ring32) Pop() (uint32, error) {
	added, removed := r.Added(), r.Removed()
	if added == removed {
		return 0, verrors.ErrWouldBlock
	}
	v := r.slots[removed&r.mask] // load after reading added acts as the read barrier
	r.SetRemoved(removed + 1)
	return v, nil
}

// Peek returns the oldest value without consuming it; same emptiness rule
// as Pop.
func (r *Ring32) Peek() (uint32, error) {
	added, removed := r.Added(), r.Removed()
	if added == removed {
		return 0, verrors.ErrWouldBlock
	}
	return r.slots[removed&r.mask], nil
}

// Len returns the number of entries currently available to the consumer.
func (r *Ring32) Len() uint32 { return r.Pending() }
