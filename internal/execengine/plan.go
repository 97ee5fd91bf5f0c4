// Package execengine turns a grid plan plus observed open orders into a
// deterministic set of PLACE/CANCEL actions, grounded on the
// teacher's trading/grid/strategy.go level-generation and diff loop,
// generalized to the spec's skew/reset-action/mode semantics.
package execengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// Mode selects which side of the grid is active, or a safe-state override.
type Mode string

const (
	ModeBoth      Mode = "both"
	ModeLongOnly  Mode = "long-only"
	ModeShortOnly Mode = "short-only"
	ModePause     Mode = "pause"
	ModeEmergency Mode = "emergency"
)

// ResetAction controls how the desired grid is reconciled against
// currently open orders.
type ResetAction string

const (
	ResetHard ResetAction = "HARD"
	ResetSoft ResetAction = "SOFT"
	ResetNone ResetAction = "NONE"
)

// Plan is the grid configuration for one symbol as of one evaluation.
type Plan struct {
	Mode         Mode
	CenterPrice  decimal.Decimal
	SpacingBps   int64
	LevelsUp     int
	LevelsDown   int
	SizeSchedule []decimal.Decimal
	SkewBps      int64
	ResetAction  ResetAction
	PriceDecimals int
	QtyDecimals   int
}

// planDigestFields is the exact canonical field set the digest hashes,
// matching the wire contract (center/size_schedule as decimal strings).
type planDigestFields struct {
	Mode         string   `json:"mode"`
	CenterPrice  string   `json:"center_price"`
	SpacingBps   int64    `json:"spacing_bps"`
	LevelsUp     int      `json:"levels_up"`
	LevelsDown   int      `json:"levels_down"`
	SizeSchedule []string `json:"size_schedule"`
	SkewBps      int64    `json:"skew_bps"`
	ResetAction  string   `json:"reset_action"`
}

// Digest returns the first 16 hex chars of the SHA-256 of the plan's
// canonical JSON, used to detect replan identity.
func (p Plan) Digest() string {
	sizes := make([]string, len(p.SizeSchedule))
	for i, s := range p.SizeSchedule {
		sizes[i] = s.String()
	}
	fields := planDigestFields{
		Mode:         string(p.Mode),
		CenterPrice:  p.CenterPrice.String(),
		SpacingBps:   p.SpacingBps,
		LevelsUp:     p.LevelsUp,
		LevelsDown:   p.LevelsDown,
		SizeSchedule: sizes,
		SkewBps:      p.SkewBps,
		ResetAction:  string(p.ResetAction),
	}
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// Level is one desired grid rung.
type Level struct {
	Side    core.Side
	LevelID uint64
	Price   decimal.Decimal
	Qty     decimal.Decimal
}

var bps = decimal.NewFromInt(10000)

// ComputeLevels derives the desired grid levels for a plan. PAUSE and
// EMERGENCY modes always produce an empty grid.
func ComputeLevels(p Plan) []Level {
	if p.Mode == ModePause || p.Mode == ModeEmergency {
		return nil
	}

	skewFactor := decimal.NewFromInt(1).Add(decimal.NewFromInt(p.SkewBps).Div(bps))
	skewedCenter := p.CenterPrice.Mul(skewFactor)

	var levels []Level

	if p.Mode != ModeLongOnly {
		spacingFactor := decimal.NewFromInt(1).Add(decimal.NewFromInt(p.SpacingBps).Div(bps))
		levels = append(levels, buildSide(core.SideSell, skewedCenter, spacingFactor, p.LevelsUp, p.SizeSchedule, p)...)
	}

	if p.Mode != ModeShortOnly {
		spacingFactor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(p.SpacingBps).Div(bps))
		levels = append(levels, buildSide(core.SideBuy, skewedCenter, spacingFactor, p.LevelsDown, p.SizeSchedule, p)...)
	}

	return levels
}

func buildSide(side core.Side, skewedCenter, spacingFactor decimal.Decimal, count int, sizeSchedule []decimal.Decimal, p Plan) []Level {
	if count <= 0 || len(sizeSchedule) == 0 {
		return nil
	}

	levels := make([]Level, 0, count)
	factor := decimal.NewFromInt(1)
	for i := 1; i <= count; i++ {
		factor = factor.Mul(spacingFactor)
		price := skewedCenter.Mul(factor).Truncate(int32(p.PriceDecimals))

		idx := i - 1
		if idx >= len(sizeSchedule) {
			idx = len(sizeSchedule) - 1
		}
		qty := sizeSchedule[idx].Truncate(int32(p.QtyDecimals))

		levels = append(levels, Level{Side: side, LevelID: uint64(i), Price: price, Qty: qty})
	}
	return levels
}
