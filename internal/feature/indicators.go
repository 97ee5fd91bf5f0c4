package feature

import (
	"gridcore/internal/core"

	"github.com/shopspring/decimal"
)

const bpsScale = 10000

// epsilon avoids division by zero in imbalance while staying negligible
// next to realistic quote sizes.
var epsilon = decimal.NewFromFloat(0.00000001)

// Config bounds the engine's warmup and lookback windows.
type Config struct {
	IntervalMs  int64
	MaxBars     int
	AtrPeriod   int
	TrendHorizon int
}

// DefaultConfig mirrors the teacher's risk-monitor defaults for a 1-minute
// bar with a 14-period ATR.
func DefaultConfig() Config {
	return Config{IntervalMs: 60_000, MaxBars: 500, AtrPeriod: 14, TrendHorizon: 20}
}

// Engine computes FeatureSnapshots from a stream of Snapshots. Per-symbol
// state is isolated; nothing is shared across symbols.
type Engine struct {
	cfg     Config
	builder *BarBuilder
}

// NewEngine constructs a feature engine with the given config.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, builder: NewBarBuilder(cfg.IntervalMs, cfg.MaxBars)}
}

// Reset clears all per-symbol state.
func (e *Engine) Reset() { e.builder.Reset() }

// ResetSymbol clears state for one symbol.
func (e *Engine) ResetSymbol(symbol string) { e.builder.ResetSymbol(symbol) }

// ProcessSnapshot folds a tick into the bar builder and returns the derived
// FeatureSnapshot. Ticks that regress ts_ms are absorbed silently by the
// bar builder (no panic, no feature update beyond what already exists).
func (e *Engine) ProcessSnapshot(snap core.Snapshot) core.FeatureSnapshot {
	e.builder.ProcessTick(snap)

	bars := e.builder.CompletedBars(snap.Symbol)
	warmupBars := len(bars)
	requiredWarmup := max(e.cfg.AtrPeriod+1, e.cfg.TrendHorizon+1)

	fs := core.FeatureSnapshot{
		Symbol:         snap.Symbol,
		TsMs:           snap.TsMs,
		MidPrice:       snap.MidPrice(),
		SpreadBps:      spreadBps(snap),
		ImbalanceL1Bps: imbalanceL1Bps(snap),
		ThinL1:         thinL1(snap),
		WarmupBars:     warmupBars,
		IsWarmedUp:     warmupBars >= requiredWarmup,
	}

	if !fs.IsWarmedUp {
		return fs
	}

	atr, ok := computeATR(bars, e.cfg.AtrPeriod)
	if ok {
		fs.Atr = decimal.NewNullDecimal(atr)
		fs.NatrBps = natrBps(atr, lastClose(bars))
	}

	sumAbs, netRet, rangeScore := rangeTrend(bars, e.cfg.TrendHorizon)
	fs.SumAbsReturnBps = sumAbs
	fs.NetReturnBps = netRet
	fs.RangeScore = rangeScore

	return fs
}

func spreadBps(snap core.Snapshot) int64 {
	mid := snap.MidPrice()
	if mid.IsZero() {
		return 0
	}
	spread := snap.BestAsk.Sub(snap.BestBid)
	return spread.Div(mid).Mul(decimal.NewFromInt(bpsScale)).Round(0).IntPart()
}

func imbalanceL1Bps(snap core.Snapshot) int64 {
	denom := snap.BidQty.Add(snap.AskQty).Add(epsilon)
	num := snap.BidQty.Sub(snap.AskQty)
	return num.Div(denom).Mul(decimal.NewFromInt(bpsScale)).Round(0).IntPart()
}

func thinL1(snap core.Snapshot) decimal.Decimal {
	if snap.BidQty.LessThan(snap.AskQty) {
		return snap.BidQty
	}
	return snap.AskQty
}

func lastClose(bars []core.MidBar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Zero
	}
	return bars[len(bars)-1].Close
}

// computeATR returns the mean of the last `period` true ranges when at
// least period+1 bars exist, matching the spec's "mean of the last period
// TRs" definition; otherwise (false, zero).
func computeATR(bars []core.MidBar, period int) (decimal.Decimal, bool) {
	if len(bars) < period+1 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	// bars[0..len-1]; true ranges need a previous close, so the usable
	// window is the last `period` bars each paired with their predecessor.
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		tr := TrueRange(bars[i], bars[i-1].Close)
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// natrBps rounds ATR/lastClose*10000 to an integer; zero on zero close.
func natrBps(atr, lastClose decimal.Decimal) int64 {
	if lastClose.IsZero() {
		return 0
	}
	return atr.Div(lastClose).Mul(decimal.NewFromInt(bpsScale)).Round(0).IntPart()
}

// rangeTrend computes sum_abs_returns_bps, net_return_bps, and
// range_score = sum_abs / (|net_ret|+1) over the last `horizon` returns
// (horizon+1 closes).
func rangeTrend(bars []core.MidBar, horizon int) (sumAbsBps, netRetBps, rangeScore int64) {
	if len(bars) < horizon+1 {
		return 0, 0, 0
	}

	start := len(bars) - horizon - 1
	closes := make([]decimal.Decimal, 0, horizon+1)
	for i := start; i < len(bars); i++ {
		closes = append(closes, bars[i].Close)
	}

	var sumAbs decimal.Decimal
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev.IsZero() {
			continue
		}
		ret := closes[i].Sub(prev).Div(prev).Mul(decimal.NewFromInt(bpsScale))
		sumAbs = sumAbs.Add(ret.Abs())
	}

	first, last := closes[0], closes[len(closes)-1]
	var netRet decimal.Decimal
	if !first.IsZero() {
		netRet = last.Sub(first).Div(first).Mul(decimal.NewFromInt(bpsScale))
	}

	sumAbsBps = sumAbs.Round(0).IntPart()
	netRetBps = netRet.Round(0).IntPart()

	denom := netRet.Abs().Add(decimal.NewFromInt(1))
	rangeScore = sumAbs.Div(denom).Round(0).IntPart()

	return sumAbsBps, netRetBps, rangeScore
}
