package superbuf

import (
	"errors"
	"testing"

	"vicore/internal/controlplane"
	"vicore/internal/verrors"
)

func newTestPool(t *testing.T, packetsPerSB uint16) (*Pool, *controlplane.Sim, controlplane.ResourceID) {
	t.Helper()
	cp := controlplane.NewSim()
	resource, err := cp.AllocateRXQueue(controlplane.AllocateRXQueueRequest{VIID: 1, NHugePages: 1})
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(cp, resource, make([]uint32, 4), make([]uint32, 4), 8, packetsPerSB)
	if err != nil {
		t.Fatal(err)
	}
	return p, cp, resource
}

func TestNextReturnsWouldBlockWhenEmpty(t *testing.T) {
	p, _, _ := newTestPool(t, 16)
	if _, err := p.Next(); !errors.Is(err, verrors.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestNextReturnsPublishedSuperbuf(t *testing.T) {
	p, _, _ := newTestPool(t, 16)
	if err := p.FillRing(2, true); err != nil {
		t.Fatal(err)
	}
	raw, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	sb, phase := DecodeFillEntry(raw)
	if sb != 2 || !phase {
		t.Fatalf("expected sb=2 phase=true, got sb=%d phase=%v", sb, phase)
	}
}

func TestReleaseDecrementsAndFreesAtZero(t *testing.T) {
	p, _, _ := newTestPool(t, 3)
	p.PreloadRefcount(0)
	if got := p.Refcount(0); got != 3 {
		t.Fatalf("expected refcount 3 after preload, got %d", got)
	}
	for i := 0; i < 2; i++ {
		if err := p.Release(0); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	if got := p.Refcount(0); got != 1 {
		t.Fatalf("expected refcount 1, got %d", got)
	}
	// Final release should bring it to zero and enqueue on the free ring.
	if err := p.Release(0); err != nil {
		t.Fatalf("final release: %v", err)
	}
	if got := p.Refcount(0); got != 0 {
		t.Fatalf("expected refcount 0, got %d", got)
	}
	freed, err := p.free.Pop()
	if err != nil {
		t.Fatalf("expected superbuffer on free ring: %v", err)
	}
	if freed != 0 {
		t.Fatalf("expected freed id 0, got %d", freed)
	}
}

func TestDoubleReleaseIsHardwareProtocolViolation(t *testing.T) {
	p, _, _ := newTestPool(t, 1)
	p.PreloadRefcount(5)
	if err := p.Release(5); err != nil {
		t.Fatalf("first release: %v", err)
	}
	err := p.Release(5)
	if !errors.Is(err, verrors.ErrHardwareProtocolViolation) {
		t.Fatalf("expected ErrHardwareProtocolViolation on double release, got %v", err)
	}
}

func TestRefreshIsIdempotentOnFailure(t *testing.T) {
	p, cp, resource := newTestPool(t, 16)
	cp.BumpGeneration(resource)
	cp.FailNextRefresh(resource, 1)
	before := p.CachedGeneration()
	if err := p.Refresh(nil, 8); !errors.Is(err, verrors.ErrControlPlane) {
		t.Fatalf("expected ErrControlPlane, got %v", err)
	}
	// Cached generation updates before the request is issued, so it is
	// already bumped even though the request failed (spec.md §4.1).
	if p.CachedGeneration() == before {
		t.Fatalf("expected cached generation to advance despite refresh failure")
	}
	// A retry with no further injected failure should now succeed.
	if err := p.Refresh(nil, 8); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestNeedsRefreshDetectsGenerationMismatch(t *testing.T) {
	p, cp, resource := newTestPool(t, 16)
	needs, err := p.NeedsRefresh()
	if err != nil {
		t.Fatal(err)
	}
	if needs {
		t.Fatalf("expected no refresh needed before any generation bump")
	}
	cp.BumpGeneration(resource)
	needs, err = p.NeedsRefresh()
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Fatalf("expected refresh needed after generation bump")
	}
}
