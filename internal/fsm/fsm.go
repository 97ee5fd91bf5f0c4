// Package fsm implements the lifecycle state machine as a pure function of
// (current_state, state_enter_ts, inputs). It performs no I/O: callers are
// responsible for logging and metrics around each Tick call.
package fsm

// State is one of the lifecycle states.
type State string

const (
	StateInit      State = "INIT"
	StateReady     State = "READY"
	StateActive    State = "ACTIVE"
	StateThrottled State = "THROTTLED"
	StatePaused    State = "PAUSED"
	StateDegraded  State = "DEGRADED"
	StateEmergency State = "EMERGENCY"
)

// Intent is a downstream-requested action subject to the allowed-intents
// matrix.
type Intent string

const (
	IntentIncreaseRisk Intent = "INCREASE_RISK"
	IntentReduceRisk   Intent = "REDUCE_RISK"
	IntentCancel       Intent = "CANCEL"
)

// OperatorOverride is an externally-injected operator directive.
type OperatorOverride string

const (
	OverrideNone      OperatorOverride = ""
	OverridePause     OperatorOverride = "PAUSE"
	OverrideEmergency OperatorOverride = "EMERGENCY"
)

// Config holds the thresholds driving trigger evaluation.
type Config struct {
	CooldownMs                  int64
	FeedStaleThresholdMs        int64
	SpreadSpikeThresholdBps     int64
	ToxicityHighThresholdBps    int64
	DrawdownThresholdPct        float64
	PositionNotionalThresholdUsd float64
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		CooldownMs:                   30_000,
		FeedStaleThresholdMs:         5_000,
		SpreadSpikeThresholdBps:      50,
		ToxicityHighThresholdBps:     500,
		DrawdownThresholdPct:         0.20,
		PositionNotionalThresholdUsd: 10,
	}
}

// Inputs is the per-tick signal bundle the FSM evaluates.
type Inputs struct {
	TsMs               int64
	KillSwitchActive   bool
	DrawdownPct        float64
	FeedGapMs          int64
	SpreadBps          int64
	ToxicityScoreBps   int64
	PositionNotionalUsd *float64 // nil == unknown
	OperatorOverride   OperatorOverride
}

// TransitionEvent records one state change with its triggering reason.
type TransitionEvent struct {
	From   State
	To     State
	Reason string
	TsMs   int64
}

// Machine is the owned, sequential lifecycle state. Not safe for
// concurrent use; the orchestrator's live loop owns it exclusively.
type Machine struct {
	cfg         Config
	state       State
	stateEnterTs int64
}

// NewMachine constructs a Machine starting in INIT at the given ts_ms.
func NewMachine(cfg Config, startTsMs int64) *Machine {
	return &Machine{cfg: cfg, state: StateInit, stateEnterTs: startTsMs}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Bootstrap performs the one caller-driven transition evaluate itself never
// applies: INIT -> READY, once the caller's own warmup (e.g. the feature
// engine filling its bar history) has completed. A no-op, returning nil, if
// the machine is not currently in INIT - callers are expected to invoke this
// unconditionally on every tick until it takes effect.
func (m *Machine) Bootstrap(tsMs int64) *TransitionEvent {
	if m.state != StateInit {
		return nil
	}
	ev := &TransitionEvent{From: m.state, To: StateReady, Reason: "warmup_complete", TsMs: tsMs}
	m.state = StateReady
	m.stateEnterTs = tsMs
	return ev
}

// Tick evaluates the trigger priority against inputs and returns the
// TransitionEvent if the state changed, else nil. Mutates the owned state;
// all decision logic lives in the pure evaluate function below so tests can
// exercise it without a Machine.
func (m *Machine) Tick(in Inputs) *TransitionEvent {
	next, reason, ok := evaluate(m.cfg, m.state, m.stateEnterTs, in)
	if !ok || next == m.state {
		return nil
	}

	ev := &TransitionEvent{From: m.state, To: next, Reason: reason, TsMs: in.TsMs}
	m.state = next
	m.stateEnterTs = in.TsMs
	return ev
}

// evaluate is the pure decision function: given current state, the ts at
// which that state was entered, and the tick inputs, returns the next
// state (if any) and the triggering reason.
func evaluate(cfg Config, state State, stateEnterTs int64, in Inputs) (State, string, bool) {
	if state == StateInit {
		// INIT's only exit is an external bootstrap transition to READY,
		// which callers perform explicitly once warmup completes; the FSM
		// itself applies no trigger from INIT.
		return state, "", false
	}

	cooldownElapsed := in.TsMs-stateEnterTs >= cfg.CooldownMs

	// 1. kill switch / operator EMERGENCY override.
	if in.KillSwitchActive || in.OperatorOverride == OverrideEmergency {
		if state != StateEmergency {
			return StateEmergency, "kill_switch_or_operator_emergency", true
		}
		return state, "", false
	}

	// 2. drawdown breach.
	if in.DrawdownPct >= cfg.DrawdownThresholdPct {
		if state != StateEmergency {
			return StateEmergency, "drawdown_breach", true
		}
		return state, "", false
	}

	// 3. feed staleness.
	if in.FeedGapMs > 0 && in.FeedGapMs > cfg.FeedStaleThresholdMs {
		if state != StateDegraded {
			return StateDegraded, "feed_stale", true
		}
		return state, "", false
	}

	// 4. operator PAUSE.
	if in.OperatorOverride == OverridePause {
		if state != StatePaused {
			return StatePaused, "operator_pause", true
		}
		return state, "", false
	}

	// 5. toxicity high.
	if in.ToxicityScoreBps > cfg.ToxicityHighThresholdBps {
		if state != StatePaused {
			return StatePaused, "toxicity_high", true
		}
		return state, "", false
	}

	// 6. spread spike.
	if in.SpreadBps > cfg.SpreadSpikeThresholdBps {
		if state != StateThrottled {
			return StateThrottled, "spread_spike", true
		}
		return state, "", false
	}

	// 7. warmup completion: READY is only entered via the caller's explicit
	// Bootstrap; once there, with none of the fault triggers above firing,
	// proceed straight to ACTIVE. This is the initial startup path, not a
	// flap recovery, so it is not cooldown-gated.
	if state == StateReady {
		return StateActive, "nominal_warmup_complete", true
	}

	// 8. recoveries, gated on cooldown and no higher trigger (already
	// excluded by falling through 1-6 above).
	if !cooldownElapsed {
		return state, "", false
	}

	switch state {
	case StateDegraded:
		if in.FeedGapMs <= cfg.FeedStaleThresholdMs {
			return StateReady, "feed_fresh_recovered", true
		}
	case StatePaused:
		if in.OperatorOverride == OverrideNone {
			switch {
			case in.ToxicityScoreBps <= cfg.ToxicityHighThresholdBps/2:
				return StateActive, "toxicity_low_recovered", true
			case in.ToxicityScoreBps <= cfg.ToxicityHighThresholdBps:
				return StateThrottled, "toxicity_mid_recovered", true
			}
		}
	case StateThrottled:
		if in.ToxicityScoreBps <= cfg.ToxicityHighThresholdBps/2 {
			return StateActive, "toxicity_low_recovered", true
		}
	case StateEmergency:
		if in.PositionNotionalUsd != nil && *in.PositionNotionalUsd < cfg.PositionNotionalThresholdUsd {
			return StatePaused, "position_flat_recovered", true
		}
	}

	return state, "", false
}

// AllowedIntents returns the set of intents permitted in a given state.
func AllowedIntents(s State) map[Intent]bool {
	switch s {
	case StateInit:
		return map[Intent]bool{}
	case StateReady:
		return map[Intent]bool{IntentCancel: true}
	case StateActive:
		return map[Intent]bool{IntentIncreaseRisk: true, IntentReduceRisk: true, IntentCancel: true}
	default: // THROTTLED, PAUSED, DEGRADED, EMERGENCY
		return map[Intent]bool{IntentReduceRisk: true, IntentCancel: true}
	}
}

// IntentAllowed reports whether an intent is permitted in state s.
func IntentAllowed(s State, intent Intent) bool {
	return AllowedIntents(s)[intent]
}
