package sor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gridcore/internal/core"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// TestRoute_S2 implements scenario S2 literally: best_bid=50000,
// best_ask=50001, BUY at 50001 crosses the spread.
func TestRoute_S2(t *testing.T) {
	res := Route(Inputs{
		Side:    core.SideBuy,
		Price:   d("50001"),
		BestBid: d("50000"),
		BestAsk: d("50001"),
	})
	assert.Equal(t, DecisionBlock, res.Decision)
	assert.Equal(t, "WOULD_CROSS_SPREAD", res.Reason)
}

func TestRoute_FilterViolationMinNotional(t *testing.T) {
	res := Route(Inputs{
		Side:     core.SideBuy,
		Price:    d("100"),
		Quantity: d("0.0001"),
		BestBid:  d("90"),
		BestAsk:  d("110"),
		Filters:  Filters{MinNotional: d("10")},
	})
	assert.Equal(t, DecisionBlock, res.Decision)
	assert.Equal(t, "FILTER_VIOLATION_MIN_NOTIONAL", res.Reason)
}

func TestRoute_DrawdownBreached(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("100"), BestBid: d("90"), BestAsk: d("110"),
		DrawdownBreached: true,
	})
	assert.Equal(t, DecisionBlock, res.Decision)
	assert.Equal(t, "DRAWDOWN_GATE_ACTIVE", res.Reason)
}

func TestRoute_NoExistingOrderPlacesCancelReplace(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("100"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 1, CancelReplaceRemaining: 1,
	})
	assert.Equal(t, DecisionCancelReplace, res.Decision)
	assert.Equal(t, "NO_EXISTING_ORDER", res.Reason)
}

func TestRoute_ImmutableFieldChangeForcesCancelReplace(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("100"), Quantity: d("1"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 1, CancelReplaceRemaining: 1,
		Existing:          ExistingOrder{Present: true, Price: d("100"), Quantity: d("1"), ReduceOnly: false, TIF: "GTC"},
		DesiredReduceOnly: true, DesiredTIF: "GTC",
	})
	assert.Equal(t, DecisionCancelReplace, res.Decision)
	assert.Equal(t, "CANCEL_REPLACE_REQUIRED_IMMUTABLE_FIELD", res.Reason)
}

func TestRoute_BelowEpsilonIsNoop(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("100.00"), Quantity: d("1.00"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 1, CancelReplaceRemaining: 1,
		Filters:       Filters{TickSize: d("0.01"), StepSize: d("0.01")},
		Existing:      ExistingOrder{Present: true, Price: d("100.00"), Quantity: d("1.00"), TIF: "GTC"},
		DesiredTIF:    "GTC",
		PriceEpsTicks: 1, QtyEpsSteps: 1,
	})
	assert.Equal(t, DecisionNoop, res.Decision)
	assert.Equal(t, "NO_CHANGE_BELOW_EPS", res.Reason)
}

func TestRoute_AmendWhenSupported(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("101.00"), Quantity: d("1.00"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 1, CancelReplaceRemaining: 1,
		Filters:            Filters{TickSize: d("0.01"), StepSize: d("0.01")},
		Existing:           ExistingOrder{Present: true, Price: d("100.00"), Quantity: d("1.00"), TIF: "GTC"},
		DesiredTIF:         "GTC",
		VenueSupportsAmend: true,
		PriceEpsTicks:      1, QtyEpsSteps: 1,
	})
	assert.Equal(t, DecisionAmend, res.Decision)
}

func TestRoute_AmendUnsupportedFallsBackToCancelReplace(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("101.00"), Quantity: d("1.00"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 1, CancelReplaceRemaining: 1,
		Filters:            Filters{TickSize: d("0.01"), StepSize: d("0.01")},
		Existing:           ExistingOrder{Present: true, Price: d("100.00"), Quantity: d("1.00"), TIF: "GTC"},
		DesiredTIF:         "GTC",
		VenueSupportsAmend: false,
		PriceEpsTicks:      1, QtyEpsSteps: 1,
	})
	assert.Equal(t, DecisionCancelReplace, res.Decision)
	assert.Equal(t, "AMEND_UNSUPPORTED", res.Reason)
}

func TestRoute_UpdatesRemainingExhaustedThrottles(t *testing.T) {
	res := Route(Inputs{
		Side: core.SideBuy, Price: d("100"), BestBid: d("90"), BestAsk: d("110"),
		UpdatesRemaining: 0,
	})
	assert.Equal(t, DecisionNoop, res.Decision)
	assert.Equal(t, "RATE_LIMIT_THROTTLE", res.Reason)
}
