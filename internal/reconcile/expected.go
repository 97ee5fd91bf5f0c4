// Package reconcile holds the Expected/Observed stores, the diff-based
// reconcile loop, and the gated remediation executor: the system's last
// line of defense between its own model of the world and exchange-
// observed truth. Grounded on the teacher's internal/risk reconciliation
// pass, generalized to the spec's independent-store + ring/TTL model.
package reconcile

import (
	"sync"

	"gridcore/internal/core"
)

// ExpectedStore holds the system's intended orders and positions. Terminal
// orders are kept subject to a ring-buffer bound and TTL; GetActiveOrders
// filters both terminal and TTL-expired entries out.
type ExpectedStore struct {
	mu        sync.Mutex
	orders    map[string]expectedOrderEntry
	positions map[string]core.ExpectedPosition
	ring      []string
	ringMax   int
	ttlMs     int64
}

type expectedOrderEntry struct {
	order    core.ExpectedOrder
	recordedTsMs int64
}

// NewExpectedStore constructs a store with the given ring-buffer bound and
// terminal-entry TTL in milliseconds (spec default 86.4M ms, i.e. 24h).
func NewExpectedStore(ringMax int, ttlMs int64) *ExpectedStore {
	return &ExpectedStore{
		orders:    make(map[string]expectedOrderEntry),
		positions: make(map[string]core.ExpectedPosition),
		ringMax:   ringMax,
		ttlMs:     ttlMs,
	}
}

// PutOrder records or updates the expected state for a client_order_id at
// now. Ring eviction drops the oldest entry once ringMax is exceeded.
func (s *ExpectedStore) PutOrder(order core.ExpectedOrder, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ClientOrderID]; !exists {
		s.ring = append(s.ring, order.ClientOrderID)
		if len(s.ring) > s.ringMax {
			oldest := s.ring[0]
			s.ring = s.ring[1:]
			delete(s.orders, oldest)
		}
	}
	s.orders[order.ClientOrderID] = expectedOrderEntry{order: order, recordedTsMs: now}
}

// PutPosition records the intended position for a symbol.
func (s *ExpectedStore) PutPosition(pos core.ExpectedPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Symbol] = pos
}

// GetActiveOrders returns expected orders excluding terminal entries and
// entries whose TTL has lapsed as of now.
func (s *ExpectedStore) GetActiveOrders(now int64) []core.ExpectedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []core.ExpectedOrder
	for _, e := range s.orders {
		if e.order.ExpectedStatus.IsTerminal() {
			continue
		}
		active = append(active, e.order)
	}
	return active
}

// PruneExpiredTerminal removes terminal entries whose TTL has lapsed as of
// now, returning the count removed. GetActiveOrders already excludes
// terminal entries regardless of TTL; this only reclaims store memory.
func (s *ExpectedStore) PruneExpiredTerminal(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.orders {
		if e.order.ExpectedStatus.IsTerminal() && now-e.recordedTsMs > s.ttlMs {
			delete(s.orders, key)
			removed++
		}
	}
	return removed
}

// Positions returns a snapshot of every tracked expected position.
func (s *ExpectedStore) Positions() []core.ExpectedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.ExpectedPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}
