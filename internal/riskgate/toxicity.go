package riskgate

import "github.com/shopspring/decimal"

const toxicityBpsScale = 10000

// priceSample is one recorded price observation for a symbol.
type priceSample struct {
	tsMs  int64
	price decimal.Decimal
}

// ToxicityGate records recent trade prices per symbol with a bounded
// lookback and exposes price-impact and spread checks. It never holds FSM
// thresholds itself — the FSM owns those — it only produces raw numerics
// for the FSM's toxicity_score_bps input. Grounded on the bounded
// rolling-window pattern of the teacher's risk monitor anomaly detector.
type ToxicityGate struct {
	lookback int
	history  map[string][]priceSample
}

// NewToxicityGate constructs a gate keeping up to `lookback` samples per
// symbol.
func NewToxicityGate(lookback int) *ToxicityGate {
	return &ToxicityGate{lookback: lookback, history: make(map[string][]priceSample)}
}

// RecordPrice appends an observation, evicting the oldest once the bounded
// lookback is exceeded.
func (t *ToxicityGate) RecordPrice(symbol string, tsMs int64, price decimal.Decimal) {
	h := append(t.history[symbol], priceSample{tsMs: tsMs, price: price})
	if len(h) > t.lookback {
		h = h[len(h)-t.lookback:]
	}
	t.history[symbol] = h
}

// PriceImpactBps computes the bps move of `mid` against the oldest
// recorded sample within the lookback window as of ts, zero if no history.
func (t *ToxicityGate) PriceImpactBps(ts int64, symbol string, mid decimal.Decimal) int64 {
	h := t.history[symbol]
	if len(h) == 0 {
		return 0
	}

	baseline := h[0].price
	if baseline.IsZero() {
		return 0
	}
	return mid.Sub(baseline).Div(baseline).Mul(decimal.NewFromInt(toxicityBpsScale)).Round(0).IntPart()
}

// SpreadToxic reports whether a spread_bps reading exceeds the given
// threshold — a thin convenience wrapper so callers don't duplicate the
// comparison at every call site.
func (t *ToxicityGate) SpreadToxic(spreadBps, thresholdBps int64) bool {
	return spreadBps > thresholdBps
}

// Reset clears history for a symbol.
func (t *ToxicityGate) Reset(symbol string) {
	delete(t.history, symbol)
}
