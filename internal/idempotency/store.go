package idempotency

import (
	"sync"

	"gridcore/internal/core"
)

// Metrics is the narrow counter surface the store bumps on notable
// outcomes, satisfied by the observability package's counters in
// production and a no-op/stub in tests.
type Metrics interface {
	IncHit(status string)
	IncConflict()
	IncExpired()
}

type noopMetrics struct{}

func (noopMetrics) IncHit(string) {}
func (noopMetrics) IncConflict()  {}
func (noopMetrics) IncExpired()   {}

// Store is a thread-safe, in-memory idempotency store. Every operation
// takes an explicit `now` timestamp; nothing reads the system clock.
type Store struct {
	mu      sync.Mutex
	entries map[string]core.IdempotencyEntry
	metrics Metrics
}

// NewStore constructs an empty store. A nil metrics sink is replaced with
// a no-op.
func NewStore(metrics Metrics) *Store {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Store{entries: make(map[string]core.IdempotencyEntry), metrics: metrics}
}

// Get returns the entry for key, or ok=false if absent or expired.
// Expired entries are removed from the store and counted.
func (s *Store) Get(key string, now int64) (core.IdempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return core.IdempotencyEntry{}, false
	}
	if e.ExpiresAtMs <= now {
		delete(s.entries, key)
		s.metrics.IncExpired()
		return core.IdempotencyEntry{}, false
	}
	return e, true
}

// PutIfAbsent stores entry under key only if no live entry currently
// occupies it. A FAILED entry (even if not yet expired) may always be
// overwritten to permit retry. Returns true iff this call's entry was the
// one stored. A DONE hit increments the hit counter; an INFLIGHT hit
// increments the conflict counter.
func (s *Store) PutIfAbsent(key string, entry core.IdempotencyEntry, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[key]
	if ok && existing.ExpiresAtMs > now {
		switch existing.Status {
		case core.IdempotencyFailed:
			// overwrite below
		case core.IdempotencyDone:
			s.metrics.IncHit("done")
			return false
		case core.IdempotencyInflight:
			s.metrics.IncConflict()
			return false
		}
	}

	s.entries[key] = entry
	return true
}

// MarkDone transitions key to DONE, extends its expiry to now+ttlMs, and
// caches result.
func (s *Store) MarkDone(key string, result interface{}, now, ttlMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.Status = core.IdempotencyDone
	e.CachedResult = result
	e.ExpiresAtMs = now + ttlMs
	s.entries[key] = e
}

// MarkFailed transitions key to FAILED, preserving the entry's original
// expiry so a retry within the same window can overwrite it via
// PutIfAbsent.
func (s *Store) MarkFailed(key, errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.Status = core.IdempotencyFailed
	e.ErrorCode = errorCode
	s.entries[key] = e
}

// PurgeExpired removes every entry whose expiry has passed as of now and
// returns the count removed.
func (s *Store) PurgeExpired(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.ExpiresAtMs <= now {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
