// Package sor implements the smart-order router: a pure function deciding
// whether a desired grid level should be placed, cancel-replaced, amended,
// blocked, or left alone relative to any existing order at that level.
// Grounded on the teacher's trading/order/router.go priority-cascade
// shape, generalized to the spec's 8-step decision order.
package sor

import (
	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// Decision is the router's verdict for one desired level.
type Decision string

const (
	DecisionPlace         Decision = "PLACE"
	DecisionCancelReplace Decision = "CANCEL_REPLACE"
	DecisionAmend         Decision = "AMEND"
	DecisionNoop          Decision = "NOOP"
	DecisionBlock         Decision = "BLOCK"
)

// ExistingOrder describes an order currently resting at the level being
// routed, if any.
type ExistingOrder struct {
	Present    bool
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ReduceOnly bool
	TIF        string
}

// Filters are the exchange's instrument constraints.
type Filters struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// Inputs is everything Route needs to reach a decision. Nothing is read
// from ambient state; every field is explicit.
type Inputs struct {
	Side                core.Side
	Price               decimal.Decimal
	Quantity            decimal.Decimal
	BestBid             decimal.Decimal
	BestAsk             decimal.Decimal
	Filters             Filters
	DrawdownBreached    bool
	UpdatesRemaining    int
	CancelReplaceRemaining int
	Existing            ExistingOrder
	DesiredReduceOnly   bool
	DesiredTIF          string
	VenueSupportsAmend  bool
	PriceEpsTicks       int64
	QtyEpsSteps         int64
}

// RouteResult is the router's structured output.
type RouteResult struct {
	Decision Decision
	Reason   string
}

// Route is a pure function over Inputs. Decision priority, first match
// wins:
//  1. would-cross-spread
//  2. filter violation
//  3. drawdown breached
//  4. updates_remaining <= 0
//  5. no existing order
//  6. immutable field change
//  7. delta below epsilon
//  8. amend vs cancel-replace fallback
func Route(in Inputs) RouteResult {
	if wouldCrossSpread(in) {
		return RouteResult{Decision: DecisionBlock, Reason: "WOULD_CROSS_SPREAD"}
	}

	if reason, violated := filterViolation(in); violated {
		return RouteResult{Decision: DecisionBlock, Reason: reason}
	}

	if in.DrawdownBreached {
		return RouteResult{Decision: DecisionBlock, Reason: "DRAWDOWN_GATE_ACTIVE"}
	}

	if in.UpdatesRemaining <= 0 {
		return RouteResult{Decision: DecisionNoop, Reason: "RATE_LIMIT_THROTTLE"}
	}

	if !in.Existing.Present {
		if in.CancelReplaceRemaining <= 0 {
			return RouteResult{Decision: DecisionNoop, Reason: "RATE_LIMIT_THROTTLE"}
		}
		return RouteResult{Decision: DecisionCancelReplace, Reason: "NO_EXISTING_ORDER"}
	}

	if in.Existing.ReduceOnly != in.DesiredReduceOnly || in.Existing.TIF != in.DesiredTIF {
		if in.CancelReplaceRemaining <= 0 {
			return RouteResult{Decision: DecisionNoop, Reason: "RATE_LIMIT_THROTTLE"}
		}
		return RouteResult{Decision: DecisionCancelReplace, Reason: "CANCEL_REPLACE_REQUIRED_IMMUTABLE_FIELD"}
	}

	priceDeltaTicks := tickDelta(in.Price, in.Existing.Price, in.Filters.TickSize)
	qtyDeltaSteps := tickDelta(in.Quantity, in.Existing.Quantity, in.Filters.StepSize)
	if priceDeltaTicks < in.PriceEpsTicks && qtyDeltaSteps < in.QtyEpsSteps {
		return RouteResult{Decision: DecisionNoop, Reason: "NO_CHANGE_BELOW_EPS"}
	}

	if in.VenueSupportsAmend {
		return RouteResult{Decision: DecisionAmend, Reason: "AMEND"}
	}
	if in.CancelReplaceRemaining <= 0 {
		return RouteResult{Decision: DecisionNoop, Reason: "RATE_LIMIT_THROTTLE"}
	}
	return RouteResult{Decision: DecisionCancelReplace, Reason: "AMEND_UNSUPPORTED"}
}

func wouldCrossSpread(in Inputs) bool {
	switch in.Side {
	case core.SideBuy:
		return in.Price.GreaterThanOrEqual(in.BestAsk)
	case core.SideSell:
		return in.Price.LessThanOrEqual(in.BestBid)
	default:
		return false
	}
}

func filterViolation(in Inputs) (string, bool) {
	f := in.Filters
	if !f.TickSize.IsZero() && !in.Price.Mod(f.TickSize).IsZero() {
		return "FILTER_VIOLATION_TICK_SIZE", true
	}
	if !f.StepSize.IsZero() && !in.Quantity.Mod(f.StepSize).IsZero() {
		return "FILTER_VIOLATION_STEP_SIZE", true
	}
	if !f.MinQty.IsZero() && in.Quantity.LessThan(f.MinQty) {
		return "FILTER_VIOLATION_MIN_QTY", true
	}
	notional := in.Price.Mul(in.Quantity)
	if !f.MinNotional.IsZero() && notional.LessThan(f.MinNotional) {
		return "FILTER_VIOLATION_MIN_NOTIONAL", true
	}
	return "", false
}

// tickDelta returns the absolute delta between a and b expressed as an
// integer count of `unit` via floor division; a zero unit degenerates to a
// raw (non-bucketed) absolute delta rounded to an integer.
func tickDelta(a, b, unit decimal.Decimal) int64 {
	diff := a.Sub(b).Abs()
	if unit.IsZero() {
		return diff.Round(0).IntPart()
	}
	return diff.Div(unit).Floor().IntPart()
}
