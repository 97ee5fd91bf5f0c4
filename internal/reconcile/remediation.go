package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// RemediationMode selects what the remediation executor is permitted to
// do this run.
type RemediationMode string

const (
	ModeDetectOnly      RemediationMode = "detect_only"
	ModePlanOnly        RemediationMode = "plan_only"
	ModeBlocked         RemediationMode = "blocked"
	ModeExecuteCancelAll RemediationMode = "execute_cancel_all"
	ModeExecuteFlatten   RemediationMode = "execute_flatten"
)

// RemediationAction is the kind of corrective action under consideration.
type RemediationAction string

const (
	ActionCancelAll RemediationAction = "cancel_all"
	ActionFlatten   RemediationAction = "flatten"
)

// Counters is the narrow counter surface remediation gating bumps.
type Counters interface {
	IncPlanned(action string)
	IncExecuted(action string)
	IncBlocked(reason string)
}

type noopCounters struct{}

func (noopCounters) IncPlanned(string) {}
func (noopCounters) IncExecuted(string) {}
func (noopCounters) IncBlocked(string)  {}

// GateConfig is every environment-driven knob the remediation gate chain
// consults.
type GateConfig struct {
	Mode                   RemediationMode
	Armed                  bool
	AllowMainnetTrade      bool
	KillSwitchActive       bool
	SymbolAllowlist        map[string]bool
	StrategyAllowlist      map[string]bool
	FlattenMaxNotionalPerCall decimal.Decimal
}

// RemediationRequest is one proposed corrective call.
type RemediationRequest struct {
	Action        RemediationAction
	Symbol        string
	ClientOrderID string
	Notional      decimal.Decimal
}

// RemediationDecision is the gate chain's verdict.
type RemediationDecision struct {
	Execute bool
	Reason  string
}

// Gate runs the full 8-step orthogonal gate chain and returns whether req
// may proceed to the idempotency store and measured HTTP layer. It also
// bumps the appropriate planned/executed/blocked counter.
func Gate(cfg GateConfig, req RemediationRequest, ha *HARole, runBudget *RunBudget, dayBudget *BudgetStore, now time.Time, counters Counters) RemediationDecision {
	if counters == nil {
		counters = noopCounters{}
	}

	// Gate 1: mode.
	switch cfg.Mode {
	case ModeDetectOnly:
		return block(counters, "mode_detect_only")
	case ModePlanOnly:
		counters.IncPlanned(string(req.Action))
		return RemediationDecision{Execute: false, Reason: "mode_plan_only"}
	case ModeBlocked:
		return block(counters, "mode_blocked")
	case ModeExecuteCancelAll, ModeExecuteFlatten:
		// proceeds to remaining gates
	default:
		return block(counters, "unknown_mode")
	}

	// Gate 2: armed + mainnet permit.
	if !cfg.Armed || !cfg.AllowMainnetTrade {
		return block(counters, "not_armed_or_mainnet_not_allowed")
	}

	// Gate 3: HA leadership.
	if ha == nil || !ha.IsLeader() {
		return block(counters, "not_leader")
	}

	// Gate 4: kill switch.
	if cfg.KillSwitchActive {
		return block(counters, "kill_switch_active")
	}

	// Gate 5: symbol/strategy allowlists.
	if cfg.SymbolAllowlist != nil && !cfg.SymbolAllowlist[req.Symbol] {
		return block(counters, "symbol_not_allowlisted")
	}
	if cfg.StrategyAllowlist != nil {
		parts, err := core.ParseClientOrderID(req.ClientOrderID)
		if err != nil || !cfg.StrategyAllowlist[parts.StrategyID] {
			return block(counters, "strategy_not_allowlisted")
		}
	}

	// Gate 6: action type permitted by mode.
	if cfg.Mode == ModeExecuteCancelAll && req.Action == ActionFlatten {
		return block(counters, "mode_cancel_only")
	}
	if cfg.Mode == ModeExecuteFlatten && req.Action == ActionCancelAll {
		return block(counters, "mode_flatten_only")
	}

	// Gate 7: per-run and per-day budgets.
	if runBudget != nil && !runBudget.Allows(req.Notional) {
		return block(counters, "run_budget_exceeded")
	}
	if dayBudget != nil && !dayBudget.Allows(req.Notional, now) {
		return block(counters, "day_budget_exceeded")
	}

	// Gate 8: per-call flatten notional cap.
	if req.Action == ActionFlatten && !cfg.FlattenMaxNotionalPerCall.IsZero() && req.Notional.GreaterThan(cfg.FlattenMaxNotionalPerCall) {
		return block(counters, "flatten_notional_per_call_exceeded")
	}

	if runBudget != nil {
		runBudget.Record(req.Notional)
	}
	if dayBudget != nil {
		_ = dayBudget.Record(req.Notional, now)
	}
	counters.IncExecuted(string(req.Action))
	return RemediationDecision{Execute: true, Reason: "all_gates_passed"}
}

func block(counters Counters, reason string) RemediationDecision {
	counters.IncBlocked(reason)
	return RemediationDecision{Execute: false, Reason: reason}
}
