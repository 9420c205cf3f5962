// Package afxdp implements the kernel-socket RX/TX transport: four
// single-producer/single-consumer rings (fill, completion, RX, TX) over a
// shared frame pool (UMEM), plus the need-wakeup/kick protocol that tells a
// blocked kernel queue to resume processing.
//
// Unlike the EFCT transport, this engine owns no real NIC hardware state:
// the "kernel side" of each ring (the simulated NIC consuming fill-ring
// frames and producing RX descriptors, or draining the TX ring into
// completions) is exposed as explicit Simulate* methods, played by a
// control-plane test double exactly as efcthdr/superbuf's NIC simulation
// is played by tests today.
package afxdp

import (
	"vicore/internal/spsc"
	"vicore/internal/verrors"
)

// Descriptor names one frame's payload within the UMEM: Addr is the frame
// index (not a byte address; the engine owns translating that to bytes).
type Descriptor struct {
	Addr uint32
	Len  uint32
}

// Engine is one attached AF_XDP-style socket: one frame pool and its four
// rings.
type Engine struct {
	id        uint8
	frameSize uint32
	frames    [][]byte

	free []uint32 // LIFO stack of unused frame indices

	fill, comp, rx, tx *spsc.Ring32

	rxLen []uint32 // length of the pending RX descriptor for frame i, if any
	txLen []uint32 // length of the pending TX descriptor for frame i, if any

	kicks uint64
}

// NewEngine constructs an Engine with frameCount frames (a power of two,
// also the capacity of all four rings) of frameSize bytes each.
func NewEngine(id uint8, frameCount int, frameSize uint32) (*Engine, error) {
	if frameCount <= 0 || frameCount&(frameCount-1) != 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "afxdp: frame count must be a power of two")
	}
	if frameSize == 0 {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "afxdp: frame size must be nonzero")
	}

	frames := make([][]byte, frameCount)
	free := make([]uint32, frameCount)
	for i := range frames {
		frames[i] = make([]byte, frameSize)
		free[i] = uint32(frameCount - 1 - i) // pop order: frame 0 first
	}

	fill, err := spsc.NewRing32(make([]uint32, frameCount))
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "fill ring")
	}
	comp, err := spsc.NewRing32(make([]uint32, frameCount))
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "completion ring")
	}
	rx, err := spsc.NewRing32(make([]uint32, frameCount))
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "rx ring")
	}
	tx, err := spsc.NewRing32(make([]uint32, frameCount))
	if err != nil {
		return nil, verrors.Wrapf(verrors.ErrInvalidArgument, err, "tx ring")
	}

	return &Engine{
		id:        id,
		frameSize: frameSize,
		frames:    frames,
		free:      free,
		fill:      fill,
		comp:      comp,
		rx:        rx,
		tx:        tx,
		rxLen:     make([]uint32, frameCount),
		txLen:     make([]uint32, frameCount),
	}, nil
}

// popFree pops one frame index off the free stack.
func (e *Engine) popFree() (uint32, error) {
	if len(e.free) == 0 {
		return 0, verrors.ErrWouldBlock
	}
	idx := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]
	return idx, nil
}

func (e *Engine) pushFree(idx uint32) {
	e.free = append(e.free, idx)
}

// FreeCount reports how many frames are currently unused.
func (e *Engine) FreeCount() int { return len(e.free) }

// HasPendingRX reports whether a completed RX descriptor is ready to be
// drained without consuming it: the AF_XDP side of spec.md §4.6's
// check_event predicate.
func (e *Engine) HasPendingRX() bool { return e.rx.Len() > 0 }

// RefillFillRing posts up to n previously-free frames onto the fill ring
// for the kernel to write into. Running out of free frames or fill-ring
// space is non-fatal: it returns the count actually posted.
func (e *Engine) RefillFillRing(n int) int {
	posted := 0
	for posted < n {
		idx, err := e.popFree()
		if err != nil {
			break
		}
		if err := e.fill.Push(idx); err != nil {
			e.pushFree(idx)
			break
		}
		posted++
	}
	return posted
}

// SimulateReceive plays the kernel's half of the RX path: consumes one
// frame off the fill ring, writes payload into it, and publishes an RX
// descriptor. Returns ErrWouldBlock if no frame has been posted to the
// fill ring.
func (e *Engine) SimulateReceive(payload []byte) error {
	idx, err := e.fill.Pop()
	if err != nil {
		return err
	}
	if uint32(len(payload)) > e.frameSize {
		return verrors.Wrap(verrors.ErrInvalidArgument, "afxdp: payload exceeds frame size")
	}
	n := copy(e.frames[idx], payload)
	e.rxLen[idx] = uint32(n)
	return e.rx.Push(idx)
}

// PollReceive drains up to len(out) RX descriptors into out, returning the
// count drained. An empty RX ring is not an error; it simply yields 0.
func (e *Engine) PollReceive(out []Descriptor) (int, error) {
	n := 0
	for n < len(out) {
		idx, err := e.rx.Pop()
		if err != nil {
			if err == verrors.ErrWouldBlock {
				return n, nil
			}
			return n, err
		}
		out[n] = Descriptor{Addr: idx, Len: e.rxLen[idx]}
		n++
	}
	return n, nil
}

// FramePayload returns the bytes backing frame idx, up to the recorded RX
// length.
func (e *Engine) FramePayload(idx uint32, length uint32) []byte {
	return e.frames[idx][:length]
}

// ReleaseReceived recycles a consumed RX frame directly back onto the fill
// ring, the common AF_XDP pattern of never routing a processed RX frame
// back through the free stack.
func (e *Engine) ReleaseReceived(idx uint32) error {
	return e.fill.Push(idx)
}

// Transmit copies payload into a free frame and posts it on the TX ring.
// Returns ErrWouldBlock if there is no free frame or the TX ring is full
// (the frame is returned to the free stack in that case).
func (e *Engine) Transmit(payload []byte) error {
	if uint32(len(payload)) > e.frameSize {
		return verrors.Wrap(verrors.ErrInvalidArgument, "afxdp: payload exceeds frame size")
	}
	idx, err := e.popFree()
	if err != nil {
		return err
	}
	n := copy(e.frames[idx], payload)
	e.txLen[idx] = uint32(n)
	if err := e.tx.Push(idx); err != nil {
		e.pushFree(idx)
		return err
	}
	return nil
}

// NeedKick reports whether the TX ring holds descriptors the (simulated)
// kernel has not yet been nudged to drain, mirroring
// efxdp_tx_need_kick/XDP_RING_NEED_WAKEUP.
func (e *Engine) NeedKick() bool {
	return e.tx.Len() > 0
}

// Kick records that the caller issued a wakeup (a real engine would invoke
// sendto() here); counted for metrics, grounded on efxdp_tx_kick.
func (e *Engine) Kick() {
	e.kicks++
}

// Kicks returns the number of Kick calls made so far.
func (e *Engine) Kicks() uint64 { return e.kicks }

// SimulateTransmitDrain plays the kernel's half of the TX path: consumes up
// to maxBatch frames off the TX ring and marks them complete. Returns the
// number drained.
func (e *Engine) SimulateTransmitDrain(maxBatch int) int {
	n := 0
	for n < maxBatch {
		idx, err := e.tx.Pop()
		if err != nil {
			break
		}
		if err := e.comp.Push(idx); err != nil {
			// Completion ring full: put the descriptor back and stop: the
			// caller must drain completions before more can be reclaimed.
			_ = e.tx.Push(idx)
			break
		}
		n++
	}
	return n
}

// PollCompletions drains up to len(out) completed TX frame indices,
// returning each one to the free stack, and reports how many were
// reclaimed.
func (e *Engine) PollCompletions(out []uint32) (int, error) {
	n := 0
	for n < len(out) {
		idx, err := e.comp.Pop()
		if err != nil {
			if err == verrors.ErrWouldBlock {
				return n, nil
			}
			return n, err
		}
		e.pushFree(idx)
		out[n] = idx
		n++
	}
	return n, nil
}
