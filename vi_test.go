package vi

import (
	"errors"
	"testing"

	"vicore/internal/afxdp"
	"vicore/internal/controlplane"
	"vicore/internal/efcthdr"
	"vicore/internal/efctrx"
	"vicore/internal/pktid"
	"vicore/internal/verrors"
)

func TestRequestIDRingPostCompleteOrder(t *testing.T) {
	r, err := NewRequestIDRing(4)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []uint64{10, 20, 30} {
		if err := r.Post(id); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []uint64{10, 20, 30} {
		got, err := r.Complete()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

// TestSeedScenario6 reproduces reinit with 3 outstanding request ids.
func TestSeedScenario6(t *testing.T) {
	r, err := NewRequestIDRing(8)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []uint64{0xA, 0xB, 0xC} {
		if err := r.Post(id); err != nil {
			t.Fatal(err)
		}
	}

	var reclaimed []uint64
	r.ReinitTX(func(id uint64) { reclaimed = append(reclaimed, id) })

	if len(reclaimed) != 3 {
		t.Fatalf("expected 3 callback invocations, got %d", len(reclaimed))
	}
	want := []uint64{0xA, 0xB, 0xC}
	for i, id := range want {
		if reclaimed[i] != id {
			t.Fatalf("reclaim order mismatch at %d: want %x got %x", i, id, reclaimed[i])
		}
	}
	if r.Added() != 0 || r.Removed() != 0 {
		t.Fatalf("expected added==removed==0 after reinit, got added=%d removed=%d", r.Added(), r.Removed())
	}
	for i, id := range r.ids {
		if id != SentinelRequestID {
			t.Fatalf("slot %d: expected sentinel, got %x", i, id)
		}
	}
}

func TestReinitTwiceInvokesCallbackZeroTimesOnSecondCall(t *testing.T) {
	r, err := NewRequestIDRing(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Post(1); err != nil {
		t.Fatal(err)
	}
	calls := 0
	r.ReinitTX(func(uint64) { calls++ })
	if calls != 1 {
		t.Fatalf("expected 1 call on first reinit, got %d", calls)
	}
	r.ReinitTX(func(uint64) { calls++ })
	if calls != 1 {
		t.Fatalf("expected no additional calls on second reinit, got total %d", calls)
	}
}

func TestRequestIDRingResetReseedsSentinel(t *testing.T) {
	r, err := NewRequestIDRing(4)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Post(99)
	r.Reset()
	if r.Pending() != 0 {
		t.Fatalf("expected 0 pending after reset")
	}
	for _, id := range r.ids {
		if id != SentinelRequestID {
			t.Fatalf("expected sentinel after reset, got %x", id)
		}
	}
}

type fakeMemory struct {
	packetsPerSB int
	regionSize   int
	superbufs    map[uint16][]byte
}

func newFakeMemory(packetsPerSB, regionSize int) *fakeMemory {
	return &fakeMemory{packetsPerSB: packetsPerSB, regionSize: regionSize, superbufs: map[uint16][]byte{}}
}

func (m *fakeMemory) ensure(sb uint16) []byte {
	buf, ok := m.superbufs[sb]
	if !ok {
		buf = make([]byte, m.packetsPerSB*m.regionSize)
		m.superbufs[sb] = buf
	}
	return buf
}

func (m *fakeMemory) Header(id pktid.ID) ([]byte, error) {
	buf := m.ensure(id.Superbuf())
	off := int(id.Index()) * m.regionSize
	return buf[off : off+m.regionSize], nil
}

func (m *fakeMemory) writePacket(sb uint16, index int, phase bool, length uint16) {
	buf := m.ensure(sb)
	off := index * m.regionSize
	_ = efcthdr.EncodeRXHeader(buf[off:off+efcthdr.HeaderSize], efcthdr.RXHeader{
		SentinelPhase:   phase,
		PacketLength:    length,
		NextFrameOffset: efcthdr.FixedNextFrameOffset,
	})
}

func TestAttachRXQWiresEngineAndRollsOverOnFirstPoll(t *testing.T) {
	cp := controlplane.NewSim()
	mem := newFakeMemory(16, efcthdr.HeaderSize+64)

	rxq, err := AttachRXQ(cp, AttachRXQConfig{
		QueueID:            0,
		NSuperbufs:         4,
		PacketsPerSuperbuf: 16,
		FillRingBacking:    make([]uint32, 8),
		FreeRingBacking:    make([]uint32, 8),
		RefcountSlots:      4,
		Memory:             mem,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rxq.Active() {
		t.Fatalf("expected active queue")
	}

	if err := rxq.Pool.FillRing(0, false); err != nil {
		t.Fatal(err)
	}
	mem.writePacket(0, 1, false, 64)

	out := make([]efctrx.Event, 1)
	n, err := rxq.Engine.Poll(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}

func TestAFXDPRXEnginePollAndHasPendingTrackFillRing(t *testing.T) {
	eng, err := afxdp.NewEngine(0, 4, 128)
	if err != nil {
		t.Fatal(err)
	}
	eng.RefillFillRing(4)

	rxEngine := NewAFXDPRXEngine(0, eng)
	if pending, err := rxEngine.HasPending(); err != nil || pending {
		t.Fatalf("expected no pending RX descriptor before a receive, got pending=%v err=%v", pending, err)
	}

	payload := []byte("hello")
	if err := eng.SimulateReceive(payload); err != nil {
		t.Fatal(err)
	}
	if pending, err := rxEngine.HasPending(); err != nil || !pending {
		t.Fatalf("expected a pending RX descriptor after SimulateReceive, got pending=%v err=%v", pending, err)
	}

	out := make([]efctrx.Event, 1)
	n, err := rxEngine.Poll(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || out[0].QueueID != 0 || out[0].Len != uint16(len(payload)) {
		t.Fatalf("unexpected event: %+v", out[0])
	}

	got := rxEngine.Get(out[0].RQID, uint32(out[0].Len))
	if string(got) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, got)
	}

	if err := rxEngine.Release(out[0].RQID); err != nil {
		t.Fatal(err)
	}
	if eng.FreeCount() != 0 {
		t.Fatalf("expected the released frame to return to the fill ring, not the free stack, got free count %d", eng.FreeCount())
	}
}

func TestInitEVQRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := InitEVQ(make([]uint64, 3)); !errors.Is(err, verrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFakeEVQHasNoVisibleEvents(t *testing.T) {
	q := FakeEVQ()
	if _, ok, err := q.Next(); ok || err != nil {
		t.Fatalf("expected the fake evq to never report an event, got ok=%v err=%v", ok, err)
	}
}

// TestReinitRXInvokesCallbackUnconditionallyIncludingSentinel reproduces
// the rxq_reinit asymmetry against txq_reinit (spec.md §4.7; ef_vi_rxq_reinit
// in the original): a sentinel slot still triggers the callback, since an RX
// descriptor always owns a buffer to reclaim whether or not a packet ever
// landed in it.
func TestReinitRXInvokesCallbackUnconditionallyIncludingSentinel(t *testing.T) {
	r, err := NewRequestIDRing(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Post(0x10); err != nil {
		t.Fatal(err)
	}
	// Post a second slot, then complete the first so it holds the
	// sentinel again; stepping removed back keeps it outstanding for
	// reinit's walk.
	if err := r.Post(0x20); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Complete(); err != nil {
		t.Fatal(err)
	}
	r.SetRemoved(r.Removed() - 1) // reopen the completed slot without re-posting it

	var seen []uint64
	r.ReinitRX(func(id uint64) { seen = append(seen, id) })

	if len(seen) != 2 {
		t.Fatalf("expected 2 callback invocations (including the sentinel slot), got %d: %x", len(seen), seen)
	}
	if seen[0] != SentinelRequestID {
		t.Fatalf("expected the first (already-completed) slot to report the sentinel, got %x", seen[0])
	}
	if seen[1] != 0x20 {
		t.Fatalf("expected the second slot to report its posted id, got %x", seen[1])
	}
}

// TestReinitTXSkipsSentinelSlot confirms txq_reinit's narrower behavior:
// a slot still holding the sentinel is skipped rather than reported.
func TestReinitTXSkipsSentinelSlot(t *testing.T) {
	r, err := NewRequestIDRing(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Post(0x10); err != nil {
		t.Fatal(err)
	}
	if err := r.Post(0x20); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Complete(); err != nil {
		t.Fatal(err)
	}
	r.SetRemoved(r.Removed() - 1)

	var seen []uint64
	r.ReinitTX(func(id uint64) { seen = append(seen, id) })

	if len(seen) != 1 {
		t.Fatalf("expected 1 callback invocation (sentinel slot skipped), got %d: %x", len(seen), seen)
	}
	if seen[0] != 0x20 {
		t.Fatalf("expected the only callback to report the posted id, got %x", seen[0])
	}
}
