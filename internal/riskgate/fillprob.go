package riskgate

import "gridcore/internal/core"

// FillDecision is the FillProbGate's outcome.
type FillDecision string

const (
	FillAllow  FillDecision = "ALLOW"
	FillShadow FillDecision = "SHADOW"
	FillBlock  FillDecision = "BLOCK"
)

// FillProbModel is the pluggable probability-of-fill estimator the gate
// consumes. Implementations are bin-lookup models (see
// internal/riskgate/fillmodel), never a training pipeline — model training
// is out of scope per the core's non-goals.
type FillProbModel interface {
	// PredictBps returns the estimated fill probability in bps [0,10000]
	// for the given feature snapshot.
	PredictBps(fs core.FeatureSnapshot) int64
}

// FillProbResult is the gate's structured outcome.
type FillProbResult struct {
	Decision  FillDecision
	ProbBps   int64
	Reason    string
}

// FillProbGate is a pure function: model=nil fails open (ALLOW, prob=0);
// enforce=false always computes but never blocks (SHADOW); enforce=true
// blocks below threshold.
func FillProbGate(model FillProbModel, fs core.FeatureSnapshot, thresholdBps int64, enforce bool) FillProbResult {
	if model == nil {
		return FillProbResult{Decision: FillAllow, ProbBps: 0, Reason: "no_model_fail_open"}
	}

	probBps := model.PredictBps(fs)

	if !enforce {
		return FillProbResult{Decision: FillShadow, ProbBps: probBps, Reason: "shadow_mode"}
	}

	if probBps >= thresholdBps {
		return FillProbResult{Decision: FillAllow, ProbBps: probBps, Reason: "above_threshold"}
	}

	return FillProbResult{Decision: FillBlock, ProbBps: probBps, Reason: "FILL_PROB_LOW"}
}
