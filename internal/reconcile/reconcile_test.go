package reconcile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcore/internal/core"
)

type countingCounters struct {
	planned map[string]int
	executed map[string]int
	blocked  map[string]int
}

func newCountingCounters() *countingCounters {
	return &countingCounters{planned: map[string]int{}, executed: map[string]int{}, blocked: map[string]int{}}
}

func (c *countingCounters) IncPlanned(a string)  { c.planned[a]++ }
func (c *countingCounters) IncExecuted(a string) { c.executed[a]++ }
func (c *countingCounters) IncBlocked(r string)  { c.blocked[r]++ }

func baseGateConfig() GateConfig {
	return GateConfig{
		Mode:              ModeExecuteCancelAll,
		Armed:             true,
		AllowMainnetTrade: true,
		SymbolAllowlist:   map[string]bool{"BTCUSDT": true},
	}
}

// TestGate_S6 implements scenario S6 literally: mode=EXECUTE_CANCEL_ALL,
// ha_role=STANDBY, every other gate passing. A cancel attempt must be
// blocked with reason=not_leader and no port call; the same flow with an
// ACTIVE leader must execute and bump action_executed_total{cancel_all}.
func TestGate_S6(t *testing.T) {
	cfg := baseGateConfig()
	req := RemediationRequest{Action: ActionCancelAll, Symbol: "BTCUSDT", ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0"}

	ha := NewHARole()
	ha.Set(RoleStandby)
	counters := newCountingCounters()

	decision := Gate(cfg, req, ha, nil, nil, time.Now(), counters)
	assert.False(t, decision.Execute)
	assert.Equal(t, "not_leader", decision.Reason)
	assert.Equal(t, 1, counters.blocked["not_leader"])
	assert.Equal(t, 0, counters.executed["cancel_all"])

	ha.Set(RoleActive)
	counters2 := newCountingCounters()
	decision2 := Gate(cfg, req, ha, nil, nil, time.Now(), counters2)
	assert.True(t, decision2.Execute)
	assert.Equal(t, 1, counters2.executed["cancel_all"])
}

func TestGate_DetectOnlyNeverExecutes(t *testing.T) {
	cfg := baseGateConfig()
	cfg.Mode = ModeDetectOnly
	ha := NewHARole()
	ha.Set(RoleActive)

	decision := Gate(cfg, RemediationRequest{Action: ActionCancelAll, Symbol: "BTCUSDT"}, ha, nil, nil, time.Now(), nil)
	assert.False(t, decision.Execute)
}

func TestGate_PlanOnlyIncrementsPlannedNotExecuted(t *testing.T) {
	cfg := baseGateConfig()
	cfg.Mode = ModePlanOnly
	ha := NewHARole()
	ha.Set(RoleActive)
	counters := newCountingCounters()

	decision := Gate(cfg, RemediationRequest{Action: ActionCancelAll, Symbol: "BTCUSDT"}, ha, nil, nil, time.Now(), counters)
	assert.False(t, decision.Execute)
	assert.Equal(t, 1, counters.planned["cancel_all"])
}

func TestGate_ModeCancelOnlyBlocksFlatten(t *testing.T) {
	cfg := baseGateConfig()
	cfg.Mode = ModeExecuteCancelAll
	ha := NewHARole()
	ha.Set(RoleActive)

	decision := Gate(cfg, RemediationRequest{Action: ActionFlatten, Symbol: "BTCUSDT", ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0"}, ha, nil, nil, time.Now(), nil)
	assert.False(t, decision.Execute)
	assert.Equal(t, "mode_cancel_only", decision.Reason)
}

func TestGate_RunBudgetExhaustedBlocks(t *testing.T) {
	cfg := baseGateConfig()
	ha := NewHARole()
	ha.Set(RoleActive)
	runBudget := NewRunBudget(1, decimal.Zero) // one call allowed, already spent
	runBudget.Record(decimal.Zero)

	decision := Gate(cfg, RemediationRequest{Action: ActionCancelAll, Symbol: "BTCUSDT"}, ha, runBudget, nil, time.Now(), nil)
	assert.False(t, decision.Execute)
	assert.Equal(t, "run_budget_exceeded", decision.Reason)
}

func TestBudgetStore_AtomicPersistAndRolloverAcrossUTCMidnight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.json")

	day1 := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	store, err := NewBudgetStore(path, 5, decimal.NewFromInt(1000), day1)
	require.NoError(t, err)

	require.NoError(t, store.Record(decimal.NewFromInt(100), day1))
	assert.Equal(t, int64(1), store.State().CallsToday)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2026-07-30")

	day2 := time.Date(2026, 7, 31, 0, 30, 0, 0, time.UTC)
	store2, err := NewBudgetStore(path, 5, decimal.NewFromInt(1000), day2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), store2.State().CallsToday, "counters roll over at UTC midnight")
	assert.Equal(t, "2026-07-31", store2.State().Date)
}

func TestExpectedStore_GetActiveOrdersExcludesTerminal(t *testing.T) {
	s := NewExpectedStore(100, 86_400_000)
	s.PutOrder(core.ExpectedOrder{ClientOrderID: "a", Symbol: "BTCUSDT", ExpectedStatus: core.OrderStatusNew}, 0)
	s.PutOrder(core.ExpectedOrder{ClientOrderID: "b", Symbol: "BTCUSDT", ExpectedStatus: core.OrderStatusFilled}, 0)

	active := s.GetActiveOrders(0)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ClientOrderID)
}

func TestObservedStore_TerminalBlocksFurtherMutation(t *testing.T) {
	s := NewObservedStore()
	s.PutOrder(core.ObservedOrder{ClientOrderID: "a", Status: core.OrderStatusFilled, TsObserved: 10})
	s.PutOrder(core.ObservedOrder{ClientOrderID: "a", Status: core.OrderStatusNew, TsObserved: 20})

	o, ok := s.Order("a")
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusFilled, o.Status, "terminal status is never overwritten")
}

func TestReconciler_MissingOnExchangeMismatch(t *testing.T) {
	exp := NewExpectedStore(100, 86_400_000)
	obs := NewObservedStore()
	exp.PutOrder(core.ExpectedOrder{ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0", Symbol: "BTCUSDT", ExpectedStatus: core.OrderStatusNew}, 0)

	r := NewReconciler(exp, obs)
	mismatches := r.Reconcile(1000)

	require.Len(t, mismatches, 1)
	assert.Equal(t, core.MismatchOrderMissingOnExchange, mismatches[0].Type)
}

func TestReconciler_ExistsUnexpectedMismatch(t *testing.T) {
	exp := NewExpectedStore(100, 86_400_000)
	obs := NewObservedStore()
	obs.PutOrder(core.ObservedOrder{ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0", Symbol: "BTCUSDT", Status: core.OrderStatusNew, TsObserved: 500})

	r := NewReconciler(exp, obs)
	mismatches := r.Reconcile(1000)

	require.Len(t, mismatches, 1)
	assert.Equal(t, core.MismatchOrderExistsUnexpected, mismatches[0].Type)
}
