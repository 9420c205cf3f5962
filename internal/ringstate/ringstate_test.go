package ringstate

import "testing"

func TestCountersPending(t *testing.T) {
	var c Counters
	if p := c.Pending(); p != 0 {
		t.Fatalf("expected empty ring, got pending=%d", p)
	}
	c.IncAdded()
	c.IncAdded()
	if p := c.Pending(); p != 2 {
		t.Fatalf("expected pending=2, got %d", p)
	}
	c.IncRemoved()
	if p := c.Pending(); p != 1 {
		t.Fatalf("expected pending=1, got %d", p)
	}
}

func TestCountersReset(t *testing.T) {
	var c Counters
	c.SetAdded(10)
	c.SetRemoved(5)
	c.Reset()
	if c.Added() != 0 || c.Removed() != 0 {
		t.Fatalf("expected zeroed counters, got added=%d removed=%d", c.Added(), c.Removed())
	}
}

func TestTxStateReset(t *testing.T) {
	var tx TxState
	tx.SetAdded(4)
	tx.SetPrevious(3)
	tx.AddCTAdded(128)
	tx.AddCTRemoved(64)
	tx.Reset()
	if tx.Added() != 0 || tx.Previous() != 0 || tx.CTAdded() != 0 || tx.CTRemoved() != 0 {
		t.Fatalf("expected fully zeroed tx state, got %+v", tx)
	}
}

func TestExpectedPhaseFlipsOnWrap(t *testing.T) {
	const capacity = 1024 // power of two
	if ExpectedPhase(0, capacity) {
		t.Fatalf("expected phase false at ptr=0")
	}
	if ExpectedPhase(capacity-8, capacity) {
		t.Fatalf("expected phase false just before wrap")
	}
	if !ExpectedPhase(capacity, capacity) {
		t.Fatalf("expected phase true exactly at one traversal")
	}
	if !ExpectedPhase(capacity+8, capacity) {
		t.Fatalf("expected phase true just after wrap")
	}
	if ExpectedPhase(2*capacity, capacity) {
		t.Fatalf("expected phase false after second traversal (flips back)")
	}
}
