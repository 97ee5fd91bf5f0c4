package reconcile

import (
	"sync"

	"gridcore/internal/core"
)

// ObservedStore ingests both stream events and REST responses. Writes are
// last-writer-wins keyed by client_order_id (orders) or symbol
// (positions); a terminal order status blocks all future mutation.
type ObservedStore struct {
	mu             sync.Mutex
	orders         map[string]core.ObservedOrder
	positions      map[string]core.ObservedPosition
	lastSnapshotTs int64
}

// NewObservedStore constructs an empty observed store.
func NewObservedStore() *ObservedStore {
	return &ObservedStore{
		orders:    make(map[string]core.ObservedOrder),
		positions: make(map[string]core.ObservedPosition),
	}
}

// PutOrder ingests an observed order update. A terminal existing status
// blocks further mutation; the update is silently dropped.
func (s *ObservedStore) PutOrder(o core.ObservedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[o.ClientOrderID]; ok && existing.Status.IsTerminal() {
		return
	}
	s.orders[o.ClientOrderID] = o
	if o.TsObserved > s.lastSnapshotTs {
		s.lastSnapshotTs = o.TsObserved
	}
}

// PutPosition ingests an observed position update, last-writer-wins.
func (s *ObservedStore) PutPosition(p core.ObservedPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[p.Symbol] = p
	if p.TsObserved > s.lastSnapshotTs {
		s.lastSnapshotTs = p.TsObserved
	}
}

// Order returns the observed state for a client_order_id, if any.
func (s *ObservedStore) Order(clientOrderID string) (core.ObservedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientOrderID]
	return o, ok
}

// Orders returns a snapshot of every tracked observed order.
func (s *ObservedStore) Orders() []core.ObservedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ObservedOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

// Position returns the observed position for a symbol, if any.
func (s *ObservedStore) Position(symbol string) (core.ObservedPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// LastSnapshotTs returns the maximum ingest timestamp seen so far.
func (s *ObservedStore) LastSnapshotTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSnapshotTs
}
