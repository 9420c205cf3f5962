// Package vi is the root VI Controller: the transport-agnostic lifecycle
// layer that sizes rings, tracks caller-owned request ids per descriptor
// slot, resets queue state, and externalises buffer reclaim through a
// caller-supplied callback on reinit. It wires the EFCT RxEngine/TxEngine
// (internal/efctrx, internal/efcttx), the EFCT event queue
// (internal/eventpoll), and the control-plane collaborator
// (internal/controlplane) into one attached virtual interface.
package vi

import (
	"math"

	"vicore/internal/afxdp"
	"vicore/internal/controlplane"
	"vicore/internal/efctrx"
	"vicore/internal/eventpoll"
	"vicore/internal/pktid"
	"vicore/internal/ringstate"
	"vicore/internal/superbuf"
	"vicore/internal/verrors"
)

// Transport names which engine backs a VI's data plane (spec.md item 3;
// SPEC_FULL.md §9 Design Notes): the EFCT superbuffer/CTPIO engine, or the
// AF_XDP-style kernel-socket engine. Both are driven behind the narrow
// eventpoll.RXEngine/TXEngine interfaces eventpoll.Poller already dispatches across
// uniformly for RX; AF_XDP's TX completions are reconciled directly
// against its own rings rather than through the EFCT event queue (AF_XDP
// has no real event ring to decode — see AFXDPRXEngine).
type Transport uint8

const (
	TransportEFCT Transport = iota
	TransportAFXDP
)

// String names the transport, for logging.
func (t Transport) String() string {
	switch t {
	case TransportAFXDP:
		return "afxdp"
	default:
		return "efct"
	}
}

// AFXDPRXEngine adapts an internal/afxdp.Engine to eventpoll.RXEngine (and,
// via HasPending, the unexported rxPeeker interface Poller.CheckEvent type-
// asserts for), letting the same Poller dispatch RX polling uniformly
// across the EFCT and AF_XDP transports. A completed AF_XDP descriptor's
// frame index becomes the event's packet id via the same pktid.ID encoding
// EFCT uses, superbuf fixed at 0 since AF_XDP has no superbuffer concept.
type AFXDPRXEngine struct {
	id     uint8
	engine *afxdp.Engine
}

// NewAFXDPRXEngine wraps engine for queue id.
func NewAFXDPRXEngine(id uint8, engine *afxdp.Engine) *AFXDPRXEngine {
	return &AFXDPRXEngine{id: id, engine: engine}
}

// Poll implements eventpoll.RXEngine.
func (a *AFXDPRXEngine) Poll(out []efctrx.Event) (int, error) {
	descs := make([]afxdp.Descriptor, len(out))
	n, err := a.engine.PollReceive(descs)
	for i := 0; i < n; i++ {
		out[i] = efctrx.Event{
			QueueID: a.id,
			RQID:    pktid.New(a.id, 0, uint16(descs[i].Addr)),
			Len:     uint16(descs[i].Len),
			SOP:     true,
		}
	}
	return n, err
}

// HasPending implements the RX half of spec.md §4.6's check_event
// predicate for the AF_XDP transport.
func (a *AFXDPRXEngine) HasPending() (bool, error) {
	return a.engine.HasPendingRX(), nil
}

// Release recycles a consumed AF_XDP frame back onto the fill ring.
func (a *AFXDPRXEngine) Release(id pktid.ID) error {
	return a.engine.ReleaseReceived(uint32(id.Index()))
}

// Get returns the payload bytes of the frame named by id, of the given
// length (the caller already has this from the RX event; AF_XDP frames
// carry no fixed header to skip past, unlike EFCT's superbuffers).
func (a *AFXDPRXEngine) Get(id pktid.ID, length uint32) []byte {
	return a.engine.FramePayload(uint32(id.Index()), length)
}

// SentinelRequestID marks a descriptor-ring slot as not carrying an
// outstanding caller request, the "unused" marker spec.md's ring lifecycle
// section names.
const SentinelRequestID = math.MaxUint64

// RequestIDRing is the generic request-id bookkeeping shared by RX and TX
// queues: a power-of-two ring of caller-supplied ids, independent of
// whatever transport (EFCT, AF_XDP) actually moves the bytes.
type RequestIDRing struct {
	ringstate.Counters
	ids  []uint64
	mask uint32
}

// NewRequestIDRing is init_rxq/init_txq: size must be a power of two; every
// slot starts at the sentinel.
func NewRequestIDRing(size int) (*RequestIDRing, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "vi: ring size must be a power of two")
	}
	r := &RequestIDRing{ids: make([]uint64, size), mask: uint32(size - 1)}
	r.fillSentinel()
	return r, nil
}

func (r *RequestIDRing) fillSentinel() {
	for i := range r.ids {
		r.ids[i] = SentinelRequestID
	}
}

// Post records id as outstanding in the next descriptor slot. Returns
// ErrWouldBlock if the ring has no free slot.
func (r *RequestIDRing) Post(id uint64) error {
	added, removed := r.Added(), r.Removed()
	if added-removed >= uint32(len(r.ids)) {
		return verrors.ErrWouldBlock
	}
	r.ids[added&r.mask] = id
	r.SetAdded(added + 1)
	return nil
}

// Complete marks the oldest outstanding request as done and returns its
// id. Returns ErrWouldBlock if nothing is outstanding.
func (r *RequestIDRing) Complete() (uint64, error) {
	added, removed := r.Added(), r.Removed()
	if added == removed {
		return 0, verrors.ErrWouldBlock
	}
	slot := removed & r.mask
	id := r.ids[slot]
	r.ids[slot] = SentinelRequestID
	r.SetRemoved(removed + 1)
	return id, nil
}

// Reset implements reset_*: zeros the ring's counters and re-seeds every
// slot to the sentinel.
func (r *RequestIDRing) Reset() {
	r.Counters.Reset()
	r.fillSentinel()
}

// ReinitRX implements rxq_reinit: walks every slot from removed to added,
// invoking callback once per slot unconditionally (in ascending ring
// order) — including slots still holding the sentinel — then resets all
// counters and slots exactly as Reset does. This mirrors
// ef_vi_rxq_reinit in the original, which only BUG_ONs a sentinel slot
// rather than skipping its callback: an RX descriptor always owns a
// buffer that must be reclaimed, posted or not.
func (r *RequestIDRing) ReinitRX(callback func(id uint64)) {
	added, removed := r.Added(), r.Removed()
	for pos := removed; pos != added; pos++ {
		id := r.ids[pos&r.mask]
		if callback != nil {
			callback(id)
		}
	}
	r.Reset()
}

// ReinitTX implements txq_reinit: walks every slot from removed to added,
// invoking callback once for each non-sentinel id (in ascending ring
// order), then resets all counters and slots exactly as Reset does. A
// second ReinitTX call immediately after the first invokes callback zero
// times, since the first call already drained and reset everything. This
// mirrors ef_vi_txq_reinit in the original, which skips the callback when
// a slot's id still reads as the sentinel: a TX descriptor only owns a
// buffer to reclaim once something was actually posted into it.
func (r *RequestIDRing) ReinitTX(callback func(id uint64)) {
	added, removed := r.Added(), r.Removed()
	for pos := removed; pos != added; pos++ {
		id := r.ids[pos&r.mask]
		if id != SentinelRequestID && callback != nil {
			callback(id)
		}
	}
	r.Reset()
}

// Pending returns the number of outstanding (posted, not yet completed)
// request ids.
func (r *RequestIDRing) Pending() uint32 { return r.Counters.Pending() }

// RXQueue bundles one attached EFCT RX queue: the superbuffer pool, the
// RxEngine poll state, and the active flag spec.md derives from
// packets-per-superbuffer != 0.
type RXQueue struct {
	ID     uint8
	Pool   *superbuf.Pool
	Engine *efctrx.Queue

	packetsPerSuperbuf uint16
}

// Active reports whether this descriptor names a usable queue.
func (q *RXQueue) Active() bool { return q.packetsPerSuperbuf != 0 }

// AttachRXQConfig is the input to AttachRXQ.
type AttachRXQConfig struct {
	QueueID            uint8
	NSuperbufs         int
	PacketsPerSuperbuf uint16
	FillRingBacking    []uint32
	FreeRingBacking    []uint32
	RefcountSlots      int
	Memory             efctrx.MemorySource
}

// AttachRXQ is attach_rxq: obtains a superbuffer-pool resource from the
// control plane, constructs the pool and the RxEngine over it, and seeds
// the engine's next pointer to force the initial "ignore first metadata
// slot" rollover (handled inside efctrx.NewQueue).
func AttachRXQ(cp controlplane.ControlPlane, cfg AttachRXQConfig) (*RXQueue, error) {
	resource, err := cp.AllocateRXQueue(controlplane.AllocateRXQueueRequest{
		VIID:       uint32(cfg.QueueID),
		NHugePages: cfg.NSuperbufs,
	})
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrControlPlane, err, "attach_rxq: allocate")
	}

	pool, err := superbuf.New(cp, resource, cfg.FillRingBacking, cfg.FreeRingBacking, cfg.RefcountSlots, cfg.PacketsPerSuperbuf)
	if err != nil {
		return nil, err
	}
	engine, err := efctrx.NewQueue(cfg.QueueID, pool, cfg.Memory, cfg.PacketsPerSuperbuf, uint16(cfg.NSuperbufs))
	if err != nil {
		return nil, err
	}

	return &RXQueue{ID: cfg.QueueID, Pool: pool, Engine: engine, packetsPerSuperbuf: cfg.PacketsPerSuperbuf}, nil
}

// InitEVQ is init_evq: wraps buf (length a power of two, the event mask is
// len(buf)*8 - 1 in byte terms) as the VI's event queue.
func InitEVQ(buf []uint64) (*eventpoll.EventQueue, error) {
	return eventpoll.NewEventQueue(buf)
}

// FakeEVQ constructs the one-entry event queue AF_XDP-backed VIs use in
// place of a real EFCT event ring, so shared "has event?" checks behave
// sanely without a real ring to poll.
func FakeEVQ() *eventpoll.EventQueue {
	q, _ := eventpoll.NewEventQueue(make([]uint64, 1))
	return q
}
