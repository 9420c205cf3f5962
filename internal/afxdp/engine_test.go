package afxdp

import (
	"errors"
	"testing"

	"vicore/internal/verrors"
)

func TestNewEngineRejectsNonPowerOfTwoFrameCount(t *testing.T) {
	if _, err := NewEngine(0, 3, 2048); !errors.Is(err, verrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestReceivePathRoundTrip(t *testing.T) {
	e, err := NewEngine(0, 4, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if posted := e.RefillFillRing(4); posted != 4 {
		t.Fatalf("expected 4 frames posted, got %d", posted)
	}
	if e.FreeCount() != 0 {
		t.Fatalf("expected 0 free frames after refill, got %d", e.FreeCount())
	}

	payload := []byte("hello world")
	if err := e.SimulateReceive(payload); err != nil {
		t.Fatal(err)
	}

	out := make([]Descriptor, 4)
	n, err := e.PollReceive(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 descriptor, got %d", n)
	}
	got := e.FramePayload(out[0].Addr, out[0].Len)
	if string(got) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, got)
	}

	if err := e.ReleaseReceived(out[0].Addr); err != nil {
		t.Fatal(err)
	}
}

func TestReceiveWithoutPostedFrameReturnsWouldBlock(t *testing.T) {
	e, err := NewEngine(0, 4, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SimulateReceive([]byte("x")); !errors.Is(err, verrors.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestTransmitDrainCompletionRoundTrip(t *testing.T) {
	e, err := NewEngine(0, 4, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if e.NeedKick() {
		t.Fatalf("expected no kick needed before any transmit")
	}

	if err := e.Transmit([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if !e.NeedKick() {
		t.Fatalf("expected kick needed after a pending transmit")
	}
	e.Kick()
	if e.Kicks() != 1 {
		t.Fatalf("expected 1 kick recorded, got %d", e.Kicks())
	}

	drained := e.SimulateTransmitDrain(8)
	if drained != 1 {
		t.Fatalf("expected 1 frame drained, got %d", drained)
	}
	if e.NeedKick() {
		t.Fatalf("expected no kick needed once tx ring is drained")
	}

	out := make([]uint32, 4)
	n, err := e.PollCompletions(out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 completion, got %d", n)
	}
	if e.FreeCount() != 4 {
		t.Fatalf("expected frame reclaimed to free stack, got free count %d", e.FreeCount())
	}
}

func TestTransmitReturnsWouldBlockWhenNoFreeFrames(t *testing.T) {
	e, err := NewEngine(0, 1, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Transmit([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := e.Transmit([]byte("b")); !errors.Is(err, verrors.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestTransmitRejectsOversizedPayload(t *testing.T) {
	e, err := NewEngine(0, 1, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Transmit(make([]byte, 9)); !errors.Is(err, verrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
