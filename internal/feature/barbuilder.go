// Package feature implements the rolling bar builder and the volatility /
// microstructure indicators computed on top of it. Grounded on the
// True-Range/ATR rolling-window logic of the teacher's risk monitor, with
// the exchange/websocket coupling stripped out: this package only ever
// consumes a core.Snapshot and produces a core.FeatureSnapshot.
package feature

import (
	"gridcore/internal/core"

	"github.com/shopspring/decimal"
)

// BarBuilder maintains, per symbol, the in-progress bar plus a bounded ring
// of completed bars. State for one symbol never touches another's.
type BarBuilder struct {
	intervalMs int64
	maxBars    int

	current   map[string]*core.MidBar
	ring      map[string][]core.MidBar
	lastSeen  map[string]int64
}

// NewBarBuilder constructs a builder with the given bar interval and ring
// capacity.
func NewBarBuilder(intervalMs int64, maxBars int) *BarBuilder {
	return &BarBuilder{
		intervalMs: intervalMs,
		maxBars:    maxBars,
		current:    make(map[string]*core.MidBar),
		ring:       make(map[string][]core.MidBar),
		lastSeen:   make(map[string]int64),
	}
}

// barTs floors ts_ms to the bar interval boundary (invariant: bar_ts ==
// floor(ts_ms/interval_ms)*interval_ms).
func (b *BarBuilder) barTs(tsMs int64) int64 {
	return (tsMs / b.intervalMs) * b.intervalMs
}

// ProcessTick folds one snapshot into the per-symbol bar state. Ticks with
// ts_ms strictly less than the last seen ts_ms for the symbol are skipped
// silently (never consumed).
func (b *BarBuilder) ProcessTick(snap core.Snapshot) {
	last, seen := b.lastSeen[snap.Symbol]
	if seen && snap.TsMs < last {
		return
	}
	b.lastSeen[snap.Symbol] = snap.TsMs

	mid := snap.MidPrice()
	bts := b.barTs(snap.TsMs)

	cur := b.current[snap.Symbol]
	if cur == nil {
		b.current[snap.Symbol] = &core.MidBar{
			BarTs: bts, Open: mid, High: mid, Low: mid, Close: mid, TickCount: 1,
		}
		return
	}

	if bts == cur.BarTs {
		if mid.GreaterThan(cur.High) {
			cur.High = mid
		}
		if mid.LessThan(cur.Low) {
			cur.Low = mid
		}
		cur.Close = mid
		cur.TickCount++
		return
	}

	// Boundary crossed: freeze current into the ring, start a fresh bar.
	b.pushToRing(snap.Symbol, *cur)
	b.current[snap.Symbol] = &core.MidBar{
		BarTs: bts, Open: mid, High: mid, Low: mid, Close: mid, TickCount: 1,
	}
}

func (b *BarBuilder) pushToRing(symbol string, bar core.MidBar) {
	r := b.ring[symbol]
	r = append(r, bar)
	if len(r) > b.maxBars {
		r = r[len(r)-b.maxBars:]
	}
	b.ring[symbol] = r
}

// CompletedBars returns the frozen bars for a symbol, oldest first.
func (b *BarBuilder) CompletedBars(symbol string) []core.MidBar {
	return b.ring[symbol]
}

// CurrentBar returns the in-progress bar for a symbol, if any.
func (b *BarBuilder) CurrentBar(symbol string) (core.MidBar, bool) {
	cur := b.current[symbol]
	if cur == nil {
		return core.MidBar{}, false
	}
	return *cur, true
}

// Reset clears all per-symbol state.
func (b *BarBuilder) Reset() {
	b.current = make(map[string]*core.MidBar)
	b.ring = make(map[string][]core.MidBar)
	b.lastSeen = make(map[string]int64)
}

// ResetSymbol clears state for a single symbol.
func (b *BarBuilder) ResetSymbol(symbol string) {
	delete(b.current, symbol)
	delete(b.ring, symbol)
	delete(b.lastSeen, symbol)
}

// TrueRange computes max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar core.MidBar, prevClose decimal.Decimal) decimal.Decimal {
	hl := bar.High.Sub(bar.Low)
	hc := bar.High.Sub(prevClose).Abs()
	lc := bar.Low.Sub(prevClose).Abs()

	tr := hl
	if hc.GreaterThan(tr) {
		tr = hc
	}
	if lc.GreaterThan(tr) {
		tr = lc
	}
	return tr
}
