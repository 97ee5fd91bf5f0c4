package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// RunBudget bounds a single process run's remediation calls, independent
// of the persisted per-day budget.
type RunBudget struct {
	MaxCallsPerRun    int64
	MaxNotionalPerRun decimal.Decimal
	callsUsed         int64
	notionalUsed      decimal.Decimal
}

// NewRunBudget constructs a fresh per-run budget.
func NewRunBudget(maxCalls int64, maxNotional decimal.Decimal) *RunBudget {
	return &RunBudget{MaxCallsPerRun: maxCalls, MaxNotionalPerRun: maxNotional, notionalUsed: decimal.Zero}
}

// Allows reports whether one more call of the given notional fits the
// remaining per-run budget.
func (b *RunBudget) Allows(notional decimal.Decimal) bool {
	if b.MaxCallsPerRun > 0 && b.callsUsed+1 > b.MaxCallsPerRun {
		return false
	}
	if !b.MaxNotionalPerRun.IsZero() && b.notionalUsed.Add(notional).GreaterThan(b.MaxNotionalPerRun) {
		return false
	}
	return true
}

// Record debits one call of the given notional from the per-run budget.
func (b *RunBudget) Record(notional decimal.Decimal) {
	b.callsUsed++
	b.notionalUsed = b.notionalUsed.Add(notional)
}

// BudgetStore persists the daily remediation counters to a JSON file,
// atomically, via write-to-temp-then-rename, and rolls the counters when
// the UTC date changes.
type BudgetStore struct {
	mu            sync.Mutex
	path          string
	maxCallsDay   int64
	maxNotionalDay decimal.Decimal
	state         core.BudgetState
}

// NewBudgetStore loads existing state from path if present, else starts a
// fresh counter for today (UTC). now must be a real wall-clock time; this
// is the one place the core is allowed to anchor a UTC calendar boundary,
// since "today" is inherently a wall-clock concept rather than a
// simulation-time one.
func NewBudgetStore(path string, maxCallsDay int64, maxNotionalDay decimal.Decimal, now time.Time) (*BudgetStore, error) {
	s := &BudgetStore{path: path, maxCallsDay: maxCallsDay, maxNotionalDay: maxNotionalDay}

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var st core.BudgetState
			if err := json.Unmarshal(b, &st); err != nil {
				return nil, fmt.Errorf("budget store: corrupt state at %s: %w", path, err)
			}
			s.state = st
		}
	}

	s.rollIfNeeded(now)
	return s, nil
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *BudgetStore) rollIfNeeded(now time.Time) bool {
	today := utcDate(now)
	if s.state.Date == today {
		return false
	}
	s.state = core.BudgetState{Date: today, CallsToday: 0, NotionalToday: decimal.Zero}
	return true
}

// Allows reports whether one more call of the given notional fits the
// remaining per-day budget, rolling the day first if needed.
func (s *BudgetStore) Allows(notional decimal.Decimal, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollIfNeeded(now)
	if s.maxCallsDay > 0 && s.state.CallsToday+1 > s.maxCallsDay {
		return false
	}
	if !s.maxNotionalDay.IsZero() && s.state.NotionalToday.Add(notional).GreaterThan(s.maxNotionalDay) {
		return false
	}
	return true
}

// Record debits one call of the given notional from today's budget and
// persists the new state atomically.
func (s *BudgetStore) Record(notional decimal.Decimal, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollIfNeeded(now)
	s.state.CallsToday++
	s.state.NotionalToday = s.state.NotionalToday.Add(notional)
	return s.persistLocked()
}

// State returns a copy of the current persisted state.
func (s *BudgetStore) State() core.BudgetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BudgetStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(s.state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".budget-*.tmp")
	if err != nil {
		return fmt.Errorf("budget store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("budget store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("budget store: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("budget store: rename: %w", err)
	}
	return nil
}
