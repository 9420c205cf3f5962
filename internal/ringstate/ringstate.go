// Package ringstate holds the small shared counter structures that every
// ring in this module is built from: monotonic 32-bit producer/consumer
// positions, a last-seen completion sequence, and a phase-wrapped pointer.
// Nothing here allocates; callers embed these in per-queue state.
package ringstate

import "sync/atomic"

// Counters tracks a single-producer/single-consumer ring's added and
// removed positions. Both counters are monotonically increasing 32-bit
// values; callers mask by (capacity-1) to obtain a slot index. The zero
// value is an empty ring.
type Counters struct {
	added   uint32
	removed uint32
}

// Added returns the current producer position with an acquire-style load.
func (c *Counters) Added() uint32 { return atomic.LoadUint32(&c.added) }

// Removed returns the current consumer position with an acquire-style load.
func (c *Counters) Removed() uint32 { return atomic.LoadUint32(&c.removed) }

// SetAdded publishes a new producer position. Callers must issue a write
// barrier (atomic store already provides one on all supported platforms)
// before any data the new position makes visible is read by the consumer.
func (c *Counters) SetAdded(v uint32) { atomic.StoreUint32(&c.added, v) }

// SetRemoved publishes a new consumer position.
func (c *Counters) SetRemoved(v uint32) { atomic.StoreUint32(&c.removed, v) }

// IncAdded advances the producer position by one and returns the new value.
func (c *Counters) IncAdded() uint32 { return atomic.AddUint32(&c.added, 1) }

// IncRemoved advances the consumer position by one and returns the new
// value.
func (c *Counters) IncRemoved() uint32 { return atomic.AddUint32(&c.removed, 1) }

// Pending returns added-removed, the number of entries available to the
// consumer. Valid only while added-removed has not wrapped past 2^32,
// which the invariant added-removed <= capacity guarantees for any sane
// ring size.
func (c *Counters) Pending() uint32 {
	return c.Added() - c.Removed()
}

// Reset zeros both counters, used by VI reset/reinit.
func (c *Counters) Reset() {
	atomic.StoreUint32(&c.added, 0)
	atomic.StoreUint32(&c.removed, 0)
}

// TxState is the per-queue transmit bookkeeping shared between the
// submission path and completion reconciliation: added/removed track the
// descriptor ring, previous is the last-reconciled completion sequence, and
// ct_added/ct_removed are rolling byte offsets into the CTPIO aperture.
type TxState struct {
	Counters
	previous  uint32
	ctAdded   uint32
	ctRemoved uint32
}

// Previous returns the last sequence number reconciled by a completion
// event.
func (t *TxState) Previous() uint32 { return atomic.LoadUint32(&t.previous) }

// SetPrevious publishes a new reconciled sequence number.
func (t *TxState) SetPrevious(v uint32) { atomic.StoreUint32(&t.previous, v) }

// CTAdded returns the rolling CTPIO aperture byte offset as of the last
// transmit.
func (t *TxState) CTAdded() uint32 { return atomic.LoadUint32(&t.ctAdded) }

// AddCTAdded advances the aperture byte offset by n bytes and returns the
// new value.
func (t *TxState) AddCTAdded(n uint32) uint32 { return atomic.AddUint32(&t.ctAdded, n) }

// CTRemoved returns the rolling count of aperture bytes reclaimed by
// completions.
func (t *TxState) CTRemoved() uint32 { return atomic.LoadUint32(&t.ctRemoved) }

// AddCTRemoved advances the reclaimed-byte counter by n and returns the new
// value.
func (t *TxState) AddCTRemoved(n uint32) uint32 { return atomic.AddUint32(&t.ctRemoved, n) }

// Reset zeros all TX state, used on txq_reinit.
func (t *TxState) Reset() {
	t.Counters.Reset()
	atomic.StoreUint32(&t.previous, 0)
	atomic.StoreUint32(&t.ctAdded, 0)
	atomic.StoreUint32(&t.ctRemoved, 0)
}

// EventPtr is the EFCT event ring's monotonic byte pointer. The expected
// phase is bit (log2(capacity)) of the pointer, i.e. it flips every full
// traversal of the ring.
type EventPtr struct {
	ptr uint32
}

// Value returns the current byte offset into the event ring.
func (e *EventPtr) Value() uint32 { return atomic.LoadUint32(&e.ptr) }

// Advance moves the pointer forward by n bytes (always a multiple of the
// 8-byte event record size) and returns the new value.
func (e *EventPtr) Advance(n uint32) uint32 { return atomic.AddUint32(&e.ptr, n) }

// Reset zeros the pointer.
func (e *EventPtr) Reset() { atomic.StoreUint32(&e.ptr, 0) }

// ExpectedPhase reports the phase a valid event at the current pointer
// position must carry, given an event ring capacity in bytes (a power of
// two). It is bit log2(capacity) of the pointer.
func ExpectedPhase(ptr, capacityBytes uint32) bool {
	return ptr&capacityBytes != 0
}
