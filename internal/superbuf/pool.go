// Package superbuf manages the EFCT RX superbuffer supply: the shared
// fill/free producer/consumer rings between kernel and user space, and the
// per-superbuffer refcount table that decides when a superbuffer goes back
// on the free ring.
package superbuf

import (
	"vicore/internal/controlplane"
	"vicore/internal/spsc"
	"vicore/internal/verrors"
)

// sentinelPhaseBit marks a fill-ring entry's sentinel phase in its high
// bit, separate from the pktid package's own sentinel-hint bit: this one
// lives on the raw superbuffer id circulating between kernel and pool,
// before RxEngine ever constructs a PacketID from it.
const sentinelPhaseBit = uint32(1) << 31

// Pool is the SuperbufPool for one attached RX queue.
type Pool struct {
	fill *spsc.Ring32 // kernel -> user: superbuffers newly filled by the NIC
	free *spsc.Ring32 // user -> kernel: superbuffers ready to reuse

	refcount []uint16 // one counter per superbuffer slot

	cp       controlplane.ControlPlane
	resource controlplane.ResourceID

	cachedGeneration uint64
	packetsPerSB     uint16
}

// New constructs a Pool over backing fill/free ring memory (each a power of
// two in length) and a refcount table sized to the number of superbuffer
// slots.
func New(cp controlplane.ControlPlane, resource controlplane.ResourceID, fillBacking, freeBacking []uint32, refcountSlots int, packetsPerSuperbuf uint16) (*Pool, error) {
	fill, err := spsc.NewRing32(fillBacking)
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "fill ring")
	}
	free, err := spsc.NewRing32(freeBacking)
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "free ring")
	}
	// Seed the cached generation from whatever the control plane already
	// observes, so attach does not immediately trigger a spurious refresh.
	initialGeneration, err := cp.ObservedGeneration(resource)
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrControlPlane, err, "observe initial generation")
	}
	return &Pool{
		fill:             fill,
		free:             free,
		refcount:         make([]uint16, refcountSlots),
		cp:               cp,
		resource:         resource,
		cachedGeneration: initialGeneration,
		packetsPerSB:     packetsPerSuperbuf,
	}, nil
}

// FillRing publishes a newly filled superbuffer id with the given sentinel
// phase, standing in for the NIC/kernel side of the fill ring. Used by the
// control-plane simulation and tests.
func (p *Pool) FillRing(superbufID uint16, sentinelPhase bool) error {
	v := uint32(superbufID)
	if sentinelPhase {
		v |= sentinelPhaseBit
	}
	return p.fill.Push(v)
}

// Next implements SuperbufPool.next: returns the next superbuffer id (with
// its sentinel phase bit preserved in bit 31) from the fill ring, or
// ErrWouldBlock if the ring is empty.
func (p *Pool) Next() (uint32, error) {
	return p.fill.Pop()
}

// Free implements SuperbufPool.free: enqueues superbufID (no phase bit) on
// the free ring for the kernel to reclaim.
func (p *Pool) Free(superbufID uint16) error {
	if err := p.free.Push(uint32(superbufID)); err != nil {
		// The free ring cannot overflow under correct sizing; surfacing
		// ErrWouldBlock here would hide a caller sizing bug, so this is
		// reported as a protocol violation instead.
		return verrors.Wrapf(verrors.ErrHardwareProtocolViolation, err, "free ring overflow")
	}
	return nil
}

// PreloadRefcount sets superbufID's refcount to packets-per-superbuffer,
// called when the superbuffer becomes current for the queue.
func (p *Pool) PreloadRefcount(superbufID uint16) {
	p.refcount[int(superbufID)%len(p.refcount)] = p.packetsPerSB
}

// Release decrements superbufID's refcount by one; when it reaches zero the
// superbuffer is returned to the free ring. Releasing a superbuffer whose
// refcount is already zero is a programming error (double release) and
// returns ErrHardwareProtocolViolation without mutating state further.
func (p *Pool) Release(superbufID uint16) error {
	slot := int(superbufID) % len(p.refcount)
	if p.refcount[slot] == 0 {
		return verrors.Wrap(verrors.ErrHardwareProtocolViolation, "refcount underflow: superbuffer already fully released")
	}
	p.refcount[slot]--
	if p.refcount[slot] == 0 {
		return p.Free(superbufID)
	}
	return nil
}

// Refcount returns the current refcount for superbufID, exported for tests.
func (p *Pool) Refcount(superbufID uint16) uint16 {
	return p.refcount[int(superbufID)%len(p.refcount)]
}

// CachedGeneration returns the configuration generation this pool last
// refreshed against.
func (p *Pool) CachedGeneration() uint64 { return p.cachedGeneration }

// NeedsRefresh reports whether the control plane's observed generation for
// this queue's resource differs from the cached one, the condition poll
// checks on every iteration (spec.md §4.2 step 2).
func (p *Pool) NeedsRefresh() (bool, error) {
	observed, err := p.cp.ObservedGeneration(p.resource)
	if err != nil {
		return false, verrors.Wrapf(verrors.ErrControlPlane, err, "observe generation")
	}
	return observed != p.cachedGeneration, nil
}

// Refresh implements SuperbufPool.refresh: issues a control-plane request
// to re-mmap the current superbuffer set, updating the cached generation
// before issuing the request so a failure is idempotent on retry.
func (p *Pool) Refresh(currentMappings []uint32, maxSuperbufs int) error {
	observed, err := p.cp.ObservedGeneration(p.resource)
	if err != nil {
		return verrors.Wrapf(verrors.ErrControlPlane, err, "observe generation")
	}
	p.cachedGeneration = observed
	if _, err := p.cp.RefreshMappings(controlplane.RefreshRequest{
		Resource:        p.resource,
		MaxSuperbufs:    maxSuperbufs,
		CurrentMappings: currentMappings,
	}); err != nil {
		return verrors.Wrapf(verrors.ErrControlPlane, err, "refresh mappings")
	}
	return nil
}

// DecodeFillEntry splits a raw fill-ring value into its superbuffer id and
// sentinel phase bit.
func DecodeFillEntry(v uint32) (superbufID uint16, sentinelPhase bool) {
	return uint16(v &^ sentinelPhaseBit), v&sentinelPhaseBit != 0
}
