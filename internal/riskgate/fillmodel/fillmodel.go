// Package fillmodel implements a deterministic bin-histogram
// fill-probability estimator: the inference side of the fill-probability
// gate named in the spec, recovered from the original Python reference's
// fill_model_eval.py / threshold_resolver.py bin-lookup-with-prior-fallback
// contract. Training such a model is out of scope; this package only ever
// consumes a pre-built histogram.
package fillmodel

import "gridcore/internal/core"

// Bin is a half-open [LowBps, HighBps) spread_bps bucket mapped to an
// observed fill probability in bps.
type Bin struct {
	LowBps     int64
	HighBps    int64
	FillProbBps int64
}

// HistogramModel estimates fill probability by spread_bps bucket, falling
// back to a global prior for spreads outside every configured bin.
type HistogramModel struct {
	bins       []Bin
	globalPriorBps int64
}

// NewHistogramModel constructs a model from bins (any order) and a global
// prior used for unseen buckets.
func NewHistogramModel(bins []Bin, globalPriorBps int64) *HistogramModel {
	cp := make([]Bin, len(bins))
	copy(cp, bins)
	return &HistogramModel{bins: cp, globalPriorBps: globalPriorBps}
}

// PredictBps implements riskgate.FillProbModel.
func (m *HistogramModel) PredictBps(fs core.FeatureSnapshot) int64 {
	for _, b := range m.bins {
		if fs.SpreadBps >= b.LowBps && fs.SpreadBps < b.HighBps {
			return b.FillProbBps
		}
	}
	return m.globalPriorBps
}
