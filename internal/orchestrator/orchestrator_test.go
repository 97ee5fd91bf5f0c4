package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcore/internal/accountsync"
	"gridcore/internal/clock"
	"gridcore/internal/core"
	"gridcore/internal/execengine"
	"gridcore/internal/exchangeport/mockport"
	"gridcore/internal/feature"
	"gridcore/internal/fsm"
	"gridcore/internal/idempotency"
	"gridcore/internal/reconcile"
	"gridcore/internal/riskgate"
	"gridcore/internal/sor"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestLoop(t *testing.T) (*LiveLoop, *mockport.Port) {
	t.Helper()
	port := mockport.New()

	plan := execengine.Plan{
		Mode:         execengine.ModeBoth,
		CenterPrice:  d("100"),
		SpacingBps:   100,
		LevelsUp:     1,
		LevelsDown:   1,
		SizeSchedule: []decimal.Decimal{d("1")},
		ResetAction:  execengine.ResetSoft,
	}
	symbols := map[string]*SymbolConfig{
		"BTCUSDT": {
			Plan: plan,
			Filters: sor.Filters{
				TickSize: d("0.01"), StepSize: d("0.0001"), MinQty: d("0.0001"), MinNotional: d("1"),
			},
		},
	}

	deps := Deps{
		Clock:      clock.NewFake(1_000_000),
		Logger:     stubLogger{},
		Features:   feature.NewEngine(feature.DefaultConfig()),
		Machine:    fsm.NewMachine(fsm.DefaultConfig(), 1_000_000),
		Drawdown:   riskgate.NewDrawdownGuard(0.2, nil),
		RateLimit:  riskgate.NewRateLimiter(0, 1000),
		Toxicity:   riskgate.NewToxicityGate(50),
		FillModel:  nil,
		Idempotent: idempotency.NewStore(nil),
		Port:       port,
		Expected:   reconcile.NewExpectedStore(1000, 86_400_000),
		Observed:   reconcile.NewObservedStore(),
	}
	deps.Reconciler = reconcile.NewReconciler(deps.Expected, deps.Observed)
	deps.HA = reconcile.NewHARole()

	cfg := Config{
		StrategyID:             "s1",
		FillProbThresholdBps:   0,
		FillProbEnforce:        false,
		IdempotencyTTLMs:       60_000,
		UpdatesRemainingPerRun: 10,
		CancelReplaceRemaining: 10,
		VenueSupportsAmend:     true,
		PriceEpsTicks:          0,
		QtyEpsSteps:            0,
	}

	return NewLiveLoop(cfg, deps, symbols), port
}

// stubLogger discards everything; tests only assert on observable state.
type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{})                 {}
func (stubLogger) Info(string, ...interface{})                  {}
func (stubLogger) Warn(string, ...interface{})                  {}
func (stubLogger) Error(string, ...interface{})                 {}
func (stubLogger) Fatal(string, ...interface{})                 {}
func (s stubLogger) WithField(string, interface{}) core.ILogger { return s }
func (s stubLogger) WithFields(map[string]interface{}) core.ILogger { return s }

func TestProcessSnapshot_PlacesGridLevelsAndRecordsExpectedOrders(t *testing.T) {
	loop, port := newTestLoop(t)

	snap := core.Snapshot{
		TsMs: 1_000_000, Symbol: "BTCUSDT",
		BestBid: d("99.98"), BestAsk: d("100.02"),
		BidQty: d("10"), AskQty: d("10"),
	}

	result := loop.ProcessSnapshot(context.Background(), snap)

	require.False(t, result.Gated)
	require.Len(t, result.Outcomes, 2, "one buy + one sell level on the first tick")

	for _, o := range result.Outcomes {
		assert.Equal(t, sor.DecisionCancelReplace, o.RouteResult.Decision)
		assert.NotEmpty(t, o.OrderID)
		assert.NoError(t, o.Err)
	}

	active := loop.deps.Expected.GetActiveOrders(snap.TsMs)
	assert.Len(t, active, 2)

	orders, err := port.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestProcessSnapshot_SecondIdenticalTickIsAllNoop(t *testing.T) {
	loop, _ := newTestLoop(t)
	ctx := context.Background()

	snap := core.Snapshot{TsMs: 1_000_000, Symbol: "BTCUSDT", BestBid: d("99.98"), BestAsk: d("100.02")}
	loop.ProcessSnapshot(ctx, snap)

	snap2 := snap
	snap2.TsMs = 1_001_000
	result := loop.ProcessSnapshot(ctx, snap2)

	assert.Empty(t, result.Outcomes, "an unchanged grid against already-open orders proposes no actions")
}

func TestProcessSnapshot_DrawdownLatchGatesFurtherRisk(t *testing.T) {
	loop, _ := newTestLoop(t)
	loop.deps.Drawdown.Update(70, 100, nil) // 30% dd, breaches the 20% limit

	snap := core.Snapshot{TsMs: 1_000_000, Symbol: "BTCUSDT", BestBid: d("99.98"), BestAsk: d("100.02")}
	result := loop.ProcessSnapshot(context.Background(), snap)

	assert.True(t, result.Gated)
	assert.Equal(t, "DRAWDOWN_GATE_ACTIVE", result.GateReason)
}

func TestProcessSnapshot_IdempotentReplayServesCachedOrderID(t *testing.T) {
	loop, _ := newTestLoop(t)
	ctx := context.Background()
	snap := core.Snapshot{TsMs: 1_000_000, Symbol: "BTCUSDT", BestBid: d("99.98"), BestAsk: d("100.02")}

	first := loop.ProcessSnapshot(ctx, snap)
	require.Len(t, first.Outcomes, 2)
	firstIDs := map[string]bool{}
	for _, o := range first.Outcomes {
		firstIDs[o.OrderID] = true
	}

	// Force the engine state back to empty so Evaluate proposes the same
	// PLACE actions again; the idempotency store must still dedup them
	// against the cached DONE result from the first pass.
	loop.runtime["BTCUSDT"].engineState = execengine.NewState("BTCUSDT")

	replay := loop.ProcessSnapshot(ctx, snap)
	for _, o := range replay.Outcomes {
		assert.True(t, o.Idempotent)
		assert.True(t, firstIDs[o.OrderID])
	}
}

func TestGate_SyncerRemediationRequestMapping(t *testing.T) {
	missing := core.Mismatch{Type: core.MismatchOrderMissingOnExchange, Symbol: "BTCUSDT"}
	assert.Nil(t, remediationRequestFor(missing))

	unexpected := core.Mismatch{Type: core.MismatchOrderExistsUnexpected, Symbol: "BTCUSDT", ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0"}
	req := remediationRequestFor(unexpected)
	require.NotNil(t, req)
	assert.Equal(t, reconcile.ActionCancelAll, req.Action)

	nonzero := core.Mismatch{Type: core.MismatchPositionNonzeroUnexpect, Symbol: "BTCUSDT"}
	req2 := remediationRequestFor(nonzero)
	require.NotNil(t, req2)
	assert.Equal(t, reconcile.ActionFlatten, req2.Action)
}

func TestHandleRemediation_NotLeaderBlocks(t *testing.T) {
	loop, _ := newTestLoop(t)
	loop.deps.GateCfg = reconcile.GateConfig{Mode: reconcile.ModeExecuteCancelAll, Armed: true, AllowMainnetTrade: true}
	loop.deps.HA.Set(reconcile.RoleStandby)

	decision := loop.handleRemediation(reconcile.RemediationRequest{Action: reconcile.ActionCancelAll, Symbol: "BTCUSDT"})
	assert.False(t, decision.Execute)
	assert.Equal(t, "not_leader", decision.Reason)
}

func TestHandleRemediation_LeaderExecutesCancelAll(t *testing.T) {
	loop, port := newTestLoop(t)
	ctx := context.Background()

	orderID, err := port.PlaceOrder(ctx, "BTCUSDT", core.SideBuy, d("99"), d("1"), 1, "grinder_s1_BTCUSDT_1_1000_0", 1000)
	require.NoError(t, err)
	loop.deps.Expected.PutOrder(core.ExpectedOrder{
		ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0", Symbol: "BTCUSDT", Side: core.SideBuy,
		Price: d("99"), Quantity: d("1"), LevelID: 1, CreatedTsMs: 1000, ExpectedStatus: core.OrderStatusNew,
	}, 1000)
	loop.deps.Observed.PutOrder(core.ObservedOrder{
		ClientOrderID: "grinder_s1_BTCUSDT_1_1000_0", OrderID: orderID, Symbol: "BTCUSDT",
		Side: core.SideBuy, Price: d("99"), Quantity: d("1"), Status: core.OrderStatusNew,
	})

	loop.deps.GateCfg = reconcile.GateConfig{Mode: reconcile.ModeExecuteCancelAll, Armed: true, AllowMainnetTrade: true}
	loop.deps.HA.Set(reconcile.RoleActive)

	decision := loop.handleRemediation(reconcile.RemediationRequest{Action: reconcile.ActionCancelAll, Symbol: "BTCUSDT"})
	assert.True(t, decision.Execute)

	orders, err := port.FetchOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders, "the cancel must have reached the exchange port")
}

func TestSyncRunner_PollOnceUpdatesObservedAndTriggersRemediation(t *testing.T) {
	loop, port := newTestLoop(t)
	loop.deps.GateCfg = reconcile.GateConfig{Mode: reconcile.ModeExecuteCancelAll, Armed: true, AllowMainnetTrade: true}
	loop.deps.HA.Set(reconcile.RoleActive)

	_, err := port.PlaceOrder(context.Background(), "BTCUSDT", core.SideBuy, d("99"), d("1"), 1, "grinder_s1_BTCUSDT_1_1000_0", 1000)
	require.NoError(t, err)

	syncer := accountsync.NewSyncer(port, nil)
	runner := NewSyncRunner(syncer, loop.deps.Observed, loop.deps.Reconciler, loop.deps.Clock, nil, time.Second, loop, stubLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case cmd := <-loop.commands:
				cmd.Reply <- loop.handleRemediation(cmd.Request)
			case <-ctx.Done():
				return
			}
		}
	}()
	defer cancel()

	runner.pollOnce(context.Background())

	orders, err := port.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders, "an order the live loop never expected must be remediated by cancel-all")
}
