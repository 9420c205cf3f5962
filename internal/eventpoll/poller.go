package eventpoll

import (
	"vicore/internal/efctrx"
	"vicore/internal/efcttx"
)

// Kind tags which half of Event is populated.
type Kind uint8

const (
	KindRX Kind = iota
	KindTXComplete
)

// Event is the dispatched, tagged union of the two event shapes this
// module produces: an RX completion or a TX completion.
type Event struct {
	Kind Kind
	RX   efctrx.Event
	TX   efcttx.Event
}

// strategy names the poll dispatch specializations, chosen once at
// construction from the VI's queue topology and never re-evaluated
// (spec.md §4.7: queue topology is fixed for the VI's lifetime).
type strategy uint8

const (
	strategy1RX strategy = iota
	strategy1RXTX
	strategyGeneric
)

// RXEngine is the narrow receive-side behavior Poller needs: emit up to
// len(out) RX completions. internal/efctrx.Queue and the AF_XDP adapter in
// the root vi package both satisfy this, letting Poller dispatch either
// transport's RX queues identically.
type RXEngine interface {
	Poll(out []efctrx.Event) (int, error)
}

// TXEngine is the narrow transmit-side behavior Poller needs to reconcile
// an EFCT event-ring completion: identify the queue, and turn a completion
// sequence number into a reclaimed-descriptor event.
type TXEngine interface {
	ID() uint8
	HandleCompletion(seq uint32) efcttx.Event
}

// rxPeeker is optionally satisfied by an RXEngine that can report packet
// readiness without consuming it: the RX half of spec.md §4.6's
// check_event predicate.
type rxPeeker interface {
	HasPending() (bool, error)
}

// Poller dispatches EFCT TX completion events and RX polls across a fixed
// queue set, picking the cheapest of three specializations at
// construction: exactly one RX queue and no TX queue skips the event
// queue and dispatch table entirely; one RX/TX pair drains completions for
// the single known TX queue with no id lookup; anything else falls back to
// a generic dispatch-by-id loop.
type Poller struct {
	evq *EventQueue
	rx  []RXEngine
	tx  map[uint8]TXEngine

	mode strategy
}

// NewPoller constructs a Poller over the given event queue and attached
// RX/TX queues.
func NewPoller(evq *EventQueue, rx []RXEngine, tx []TXEngine) *Poller {
	byID := make(map[uint8]TXEngine, len(tx))
	for _, q := range tx {
		byID[q.ID()] = q
	}

	mode := strategyGeneric
	if len(rx) == 1 && len(tx) == 0 {
		mode = strategy1RX
	} else if len(rx) == 1 && len(tx) == 1 {
		mode = strategy1RXTX
	}

	return &Poller{evq: evq, rx: rx, tx: byID, mode: mode}
}

// Poll fills out with up to len(out) events, dispatching according to the
// strategy chosen at construction.
func (p *Poller) Poll(out []Event) (int, error) {
	switch p.mode {
	case strategy1RX:
		return p.poll1RX(out)
	case strategy1RXTX:
		return p.poll1RXTX(out)
	default:
		return p.pollGeneric(out)
	}
}

// poll1RX: no event queue involved at all, since a VI with no TX queue
// never has anything to drain from it.
func (p *Poller) poll1RX(out []Event) (int, error) {
	rxOut := make([]efctrx.Event, len(out))
	n, err := p.rx[0].Poll(rxOut)
	for i := 0; i < n; i++ {
		out[i] = Event{Kind: KindRX, RX: rxOut[i]}
	}
	return n, err
}

// poll1RXTX: drain the event queue for the one known TX queue's
// completions (no id lookup needed, since there is only one candidate),
// then fill any remaining capacity with RX events.
func (p *Poller) poll1RXTX(out []Event) (int, error) {
	n := 0
	txq := p.singleTX()
	for n < len(out) {
		word, ok, err := p.evq.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		eventType, _, seq := DecodeEvent(word)
		if eventType != EventTypeTXComplete {
			continue
		}
		out[n] = Event{Kind: KindTXComplete, TX: txq.HandleCompletion(seq)}
		n++
	}
	if n >= len(out) {
		return n, nil
	}
	rxOut := make([]efctrx.Event, len(out)-n)
	rxN, err := p.rx[0].Poll(rxOut)
	for i := 0; i < rxN; i++ {
		out[n+i] = Event{Kind: KindRX, RX: rxOut[i]}
	}
	return n + rxN, err
}

// pollGeneric handles an arbitrary queue set: drain the event queue,
// dispatching each TX completion to the TX queue named by its queue id,
// then poll every RX queue in turn for the remaining capacity.
func (p *Poller) pollGeneric(out []Event) (int, error) {
	n := 0
	for n < len(out) {
		word, ok, err := p.evq.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		eventType, queueID, seq := DecodeEvent(word)
		if eventType != EventTypeTXComplete {
			continue
		}
		txq, known := p.tx[queueID]
		if !known {
			continue
		}
		out[n] = Event{Kind: KindTXComplete, TX: txq.HandleCompletion(seq)}
		n++
	}

	for _, rxq := range p.rx {
		if n >= len(out) {
			break
		}
		rxOut := make([]efctrx.Event, len(out)-n)
		rxN, err := rxq.Poll(rxOut)
		for i := 0; i < rxN; i++ {
			out[n+i] = Event{Kind: KindRX, RX: rxOut[i]}
		}
		n += rxN
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// singleTX returns the one TX queue in strategy1RXTX mode.
func (p *Poller) singleTX() TXEngine {
	for _, q := range p.tx {
		return q
	}
	return nil
}

// CheckEvent implements spec.md §4.6's check_event: a low-cost predicate
// that returns true iff a TX event is pending on the event queue, or any
// attached RX queue has a next-header sentinel match ready at its current
// read position. A queue's EFCT and AF_XDP implementations both support
// this by implementing rxPeeker; an RX queue that does not is treated as
// never pending (conservative, never false-positive).
func (p *Poller) CheckEvent() bool {
	if p.evq != nil && p.evq.HasPending() {
		return true
	}
	for _, rxq := range p.rx {
		peeker, ok := rxq.(rxPeeker)
		if !ok {
			continue
		}
		if pending, err := peeker.HasPending(); err == nil && pending {
			return true
		}
	}
	return false
}
