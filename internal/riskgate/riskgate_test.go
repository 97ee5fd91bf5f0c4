package riskgate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcore/internal/core"
	"gridcore/internal/fsm"
)

// TestRateLimiter_S5 implements the spec's scenario S5 literally:
// cooldown_ms=100, max_per_minute=5. Orders at ts=1000 (allow), ts=1050
// (block COOLDOWN_ACTIVE remaining_ms=50), ts=1100..1400 (5 allowed total),
// ts=1401 (block RATE_LIMIT_EXCEEDED current_count=5).
func TestRateLimiter_S5(t *testing.T) {
	rl := NewRateLimiter(100, 5)

	res := rl.Check(1000)
	require.True(t, res.Allowed)
	rl.RecordOrder(1000)

	res = rl.Check(1050)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonCooldownActive, res.Reason)
	assert.Equal(t, int64(50), res.RemainingMs)

	ts := []int64{1100, 1200, 1300, 1400}
	for _, tt := range ts {
		res = rl.Check(tt)
		require.True(t, res.Allowed, "ts=%d should be allowed", tt)
		rl.RecordOrder(tt)
	}

	res = rl.Check(1401)
	require.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimitExceeded, res.Reason)
	assert.Equal(t, 5, res.CurrentCount)
}

func TestRateLimiter_WindowEvictsStrictlyOlderThan60s(t *testing.T) {
	rl := NewRateLimiter(0, 2)
	rl.RecordOrder(0)
	rl.RecordOrder(30_000)

	res := rl.Check(60_000)
	require.False(t, res.Allowed, "window boundary sample at ts=0 still counts at exactly 60s later")

	res = rl.Check(60_001)
	require.True(t, res.Allowed, "ts=0 sample evicted once strictly more than 60s has elapsed")
}

// TestDrawdownGuard_S4 implements scenario S4: portfolio drawdown crosses
// the configured limit, the guard latches, REDUCE_RISK/CANCEL remain
// allowed while INCREASE_RISK is blocked, and only Reset() clears the latch
// -- a later Update() call that reports a recovered equity curve must not.
func TestDrawdownGuard_S4(t *testing.T) {
	g := NewDrawdownGuard(0.20, map[string]float64{"BTCUSDT": 100})

	g.Update(95000, 100000, nil)
	assert.Equal(t, DrawdownNormal, g.State())

	g.Update(79000, 100000, nil)
	assert.Equal(t, DrawdownTripped, g.State())

	d := g.Allow(fsm.IntentIncreaseRisk, "BTCUSDT")
	assert.False(t, d.Allowed)
	assert.Equal(t, "DRAWDOWN_GATE_ACTIVE", d.Reason)

	d = g.Allow(fsm.IntentReduceRisk, "BTCUSDT")
	assert.True(t, d.Allowed)

	d = g.Allow(fsm.IntentCancel, "BTCUSDT")
	assert.True(t, d.Allowed)

	g.Update(100000, 100000, nil)
	assert.Equal(t, DrawdownTripped, g.State(), "recovered equity never auto-clears the latch")

	g.Reset()
	assert.Equal(t, DrawdownNormal, g.State())
}

func TestConsecutiveLossGuard_TripsOnThresholdAndResetsOnWin(t *testing.T) {
	g := NewConsecutiveLossGuard(true, 3)

	assert.False(t, g.Update(OutcomeLoss, "r1", 1))
	assert.False(t, g.Update(OutcomeLoss, "r2", 2))
	assert.True(t, g.Update(OutcomeLoss, "r3", 3), "third consecutive loss trips")
	assert.True(t, g.Tripped())

	assert.False(t, g.Update(OutcomeLoss, "r4", 4), "already tripped, no re-trip")

	assert.False(t, g.Update(OutcomeWin, "r5", 5))
	assert.False(t, g.Tripped())
	assert.Equal(t, 0, g.Count())
}

func TestConsecutiveLossGuard_FromStateRejectsInvalid(t *testing.T) {
	g := NewConsecutiveLossGuard(true, 3)

	err := g.FromState(ConsecutiveLossGuardState{Count: -1})
	require.Error(t, err)

	err = g.FromState(ConsecutiveLossGuardState{Count: 1, Tripped: true})
	require.Error(t, err)

	err = g.FromState(ConsecutiveLossGuardState{Count: 3, Tripped: true})
	require.NoError(t, err)
}

func TestFillProbGate_NilModelFailsOpen(t *testing.T) {
	res := FillProbGate(nil, core.FeatureSnapshot{}, 5000, true)
	assert.Equal(t, FillAllow, res.Decision)
	assert.Equal(t, "no_model_fail_open", res.Reason)
}

type stubModel struct{ probBps int64 }

func (s stubModel) PredictBps(core.FeatureSnapshot) int64 { return s.probBps }

func TestFillProbGate_ShadowNeverBlocks(t *testing.T) {
	res := FillProbGate(stubModel{probBps: 0}, core.FeatureSnapshot{}, 5000, false)
	assert.Equal(t, FillShadow, res.Decision)
}

func TestFillProbGate_EnforceBlocksBelowThreshold(t *testing.T) {
	res := FillProbGate(stubModel{probBps: 1000}, core.FeatureSnapshot{}, 5000, true)
	assert.Equal(t, FillBlock, res.Decision)
	assert.Equal(t, "FILL_PROB_LOW", res.Reason)

	res = FillProbGate(stubModel{probBps: 6000}, core.FeatureSnapshot{}, 5000, true)
	assert.Equal(t, FillAllow, res.Decision)
}

func TestToxicityGate_PriceImpactAgainstOldestSample(t *testing.T) {
	g := NewToxicityGate(3)
	g.RecordPrice("BTCUSDT", 1000, decimal.NewFromInt(100))
	g.RecordPrice("BTCUSDT", 2000, decimal.NewFromInt(101))

	impact := g.PriceImpactBps(3000, "BTCUSDT", decimal.NewFromInt(110))
	assert.Equal(t, int64(1000), impact)
}

func TestToxicityGate_NoHistoryIsZero(t *testing.T) {
	g := NewToxicityGate(3)
	assert.Equal(t, int64(0), g.PriceImpactBps(1000, "BTCUSDT", decimal.NewFromInt(100)))
}
