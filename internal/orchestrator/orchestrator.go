// Package orchestrator wires every decision-pipeline component into the
// live loop's per-snapshot pseudo-pipeline: features, feed-gap tracking,
// FSM tick, risk gates, execution-engine evaluation, smart order routing,
// idempotency dedup, exchange dispatch, and expected/observed bookkeeping.
// Grounded on the teacher's internal/bootstrap App/Runner wiring, adapted
// from a single pre-built strategy object into a composition root over the
// package boundaries this module was split into.
package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"gridcore/internal/accountsync"
	"gridcore/internal/clock"
	"gridcore/internal/core"
	"gridcore/internal/execengine"
	"gridcore/internal/exchangeport"
	"gridcore/internal/feature"
	"gridcore/internal/fsm"
	"gridcore/internal/idempotency"
	"gridcore/internal/reconcile"
	"gridcore/internal/riskgate"
	"gridcore/internal/sor"
)

// SymbolConfig bundles the per-symbol static inputs the live loop needs to
// evaluate a plan and route its actions: the execution plan itself, the
// exchange filters SOR enforces against, and the grid-level price/qty
// rounding the plan was built with.
type SymbolConfig struct {
	Plan    execengine.Plan
	Filters sor.Filters
}

// Config holds the process-wide thresholds and identifiers the live loop
// needs beyond what each component already owns.
type Config struct {
	StrategyID              string
	FeedStaleWarnMs         int64
	FillProbThresholdBps    int64
	FillProbEnforce         bool
	IdempotencyTTLMs        int64
	UpdatesRemainingPerRun  int
	CancelReplaceRemaining  int
	VenueSupportsAmend      bool
	PriceEpsTicks           int64
	QtyEpsSteps             int64
}

// Deps bundles every already-built component the live loop composes. Port,
// Expected, Observed, Reconciler and Clock are also used by the background
// SyncRunner; the other fields are used only by the live loop's goroutine.
type Deps struct {
	Clock      clock.Clock
	Logger     core.ILogger
	Features   *feature.Engine
	Machine    *fsm.Machine
	Drawdown   *riskgate.DrawdownGuard
	RateLimit  *riskgate.RateLimiter
	Toxicity   *riskgate.ToxicityGate
	FillModel  riskgate.FillProbModel
	Idempotent *idempotency.Store
	Port       exchangeport.Port
	Expected   *reconcile.ExpectedStore
	Observed   *reconcile.ObservedStore
	Reconciler *reconcile.Reconciler
	HA         *reconcile.HARole
	RunBudget  *reconcile.RunBudget
	DayBudget  *reconcile.BudgetStore
	GateCfg    reconcile.GateConfig
	Counters   reconcile.Counters
}

// symbolRuntime is the per-symbol mutable state the live loop threads
// between ticks: the execution engine's open-order view, the last feed
// ts_ms seen (for gap computation), and a monotonic client-order-id
// sequence.
type symbolRuntime struct {
	engineState    execengine.State
	lastTsMs       int64
	seq            uint64
	clientOrderIDs map[string]string // levelKey -> client order id of the order currently resting there
}

// levelKey identifies one grid level's slot in a symbolRuntime's tracking
// maps, independent of execengine's unexported key type.
func levelKey(side core.Side, levelID uint64) string {
	return string(side) + "|" + strconv.FormatUint(levelID, 10)
}

// LiveLoop is the single-goroutine owner of the hot path: features, FSM,
// risk gates, execution engine, SOR, and exchange dispatch. All mutation of
// its owned component instances happens only from inside Run's goroutine or
// from calls to ProcessSnapshot/ProcessCommand made on that goroutine.
type LiveLoop struct {
	cfg     Config
	deps    Deps
	symbols map[string]*SymbolConfig
	runtime map[string]*symbolRuntime

	snapshots chan core.Snapshot
	commands  chan Command
}

// Command is a remediation request funneled back onto the live loop's
// goroutine so it's ordered against normal order writes, per the
// concurrency model's command-channel rule.
type Command struct {
	Request reconcile.RemediationRequest
	Reply   chan reconcile.RemediationDecision
}

// NewLiveLoop constructs a loop over the given per-symbol configs. Channel
// sizes are small and bounded: the live loop is meant to keep pace with
// market data, not buffer unboundedly behind it.
func NewLiveLoop(cfg Config, deps Deps, symbols map[string]*SymbolConfig) *LiveLoop {
	runtime := make(map[string]*symbolRuntime, len(symbols))
	for symbol := range symbols {
		runtime[symbol] = &symbolRuntime{engineState: execengine.NewState(symbol), clientOrderIDs: make(map[string]string)}
	}
	return &LiveLoop{
		cfg:       cfg,
		deps:      deps,
		symbols:   symbols,
		runtime:   runtime,
		snapshots: make(chan core.Snapshot, 256),
		commands:  make(chan Command, 16),
	}
}

// Snapshots returns the channel feeding market snapshots into the loop.
// WebSocket ingest tasks send into this channel; they never call
// ProcessSnapshot directly.
func (l *LiveLoop) Snapshots() chan<- core.Snapshot { return l.snapshots }

// Commands returns the channel remediation requests are funneled through.
func (l *LiveLoop) Commands() chan<- Command { return l.commands }

// Run is the live loop's Runner entry point: a cooperative select over
// incoming snapshots and remediation commands until ctx is cancelled.
func (l *LiveLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-l.snapshots:
			l.ProcessSnapshot(ctx, snap)
		case cmd := <-l.commands:
			cmd.Reply <- l.handleRemediation(cmd.Request)
		}
	}
}

// ActionOutcome records one execution action's path through SOR,
// idempotency, and dispatch, for logging, metrics, and tests.
type ActionOutcome struct {
	Action       core.ExecutionAction
	RouteResult  sor.RouteResult
	Idempotent   bool // true if served from a cached DONE result
	OrderID      string
	Err          error
}

// SnapshotResult is everything one ProcessSnapshot call produced.
type SnapshotResult struct {
	Features   core.FeatureSnapshot
	Transition *fsm.TransitionEvent
	Gated      bool
	GateReason string
	Outcomes   []ActionOutcome
}

// ProcessSnapshot runs the full per-snapshot pipeline for one symbol's
// tick: feature computation, feed-gap tracking, FSM tick, risk gates,
// execution-engine evaluation, per-action SOR routing, idempotency dedup,
// and dispatch against the exchange port. It must only ever be called from
// the live loop's own goroutine (via Run, or directly in tests).
func (l *LiveLoop) ProcessSnapshot(ctx context.Context, snap core.Snapshot) SnapshotResult {
	rt := l.runtime[snap.Symbol]
	if rt == nil {
		rt = &symbolRuntime{engineState: execengine.NewState(snap.Symbol), clientOrderIDs: make(map[string]string)}
		l.runtime[snap.Symbol] = rt
	}

	// Step 1: features.
	fs := l.deps.Features.ProcessSnapshot(snap)
	l.deps.Toxicity.RecordPrice(snap.Symbol, snap.TsMs, fs.MidPrice)

	// Step 2: feed-gap tracker, then FSM inputs.
	var feedGapMs int64
	if rt.lastTsMs != 0 {
		feedGapMs = snap.TsMs - rt.lastTsMs
	}
	rt.lastTsMs = snap.TsMs

	// Drive the one transition the FSM never applies on its own: once
	// warmup completes this is a no-op forever after, so it's safe and
	// cheap to call on every tick rather than tracking warmup state here
	// as well.
	if ev := l.deps.Machine.Bootstrap(snap.TsMs); ev != nil {
		l.deps.Logger.Info("fsm transition", "symbol", snap.Symbol, "from", ev.From, "to", ev.To, "reason", ev.Reason)
	}

	toxBps := l.deps.Toxicity.PriceImpactBps(snap.TsMs, snap.Symbol, fs.MidPrice)
	fsmIn := fsm.Inputs{
		TsMs:             snap.TsMs,
		DrawdownPct:      l.deps.Drawdown.PortfolioDDPct(),
		FeedGapMs:        feedGapMs,
		SpreadBps:        fs.SpreadBps,
		ToxicityScoreBps: toxBps,
	}

	// Step 3: FSM tick.
	transition := l.deps.Machine.Tick(fsmIn)
	if transition != nil {
		l.deps.Logger.Info("fsm transition", "symbol", snap.Symbol, "from", transition.From, "to", transition.To, "reason", transition.Reason)
	}
	state := l.deps.Machine.State()

	result := SnapshotResult{Features: fs, Transition: transition}

	symCfg := l.symbols[snap.Symbol]
	if symCfg == nil {
		return result
	}

	// Step 4: risk gates. A PAUSED/EMERGENCY/DEGRADED FSM state only
	// permits REDUCE_RISK/CANCEL; the plan's own Mode already encodes
	// that upstream, so the gate here covers drawdown and rate/fill
	// limits that apply regardless of FSM state.
	if !fsm.IntentAllowed(state, fsm.IntentIncreaseRisk) && symCfg.Plan.Mode == execengine.ModeBoth {
		// FSM disallows adding risk but the plan hasn't been downgraded
		// yet; fall back to a cancel-only plan for this tick.
		downgraded := symCfg.Plan
		downgraded.Mode = execengine.ModePause
		symCfg = &SymbolConfig{Plan: downgraded, Filters: symCfg.Filters}
	}

	ddDecision := l.deps.Drawdown.Allow(fsm.IntentIncreaseRisk, snap.Symbol)
	rlDecision := l.deps.RateLimit.Check(snap.TsMs)
	fpDecision := riskgate.FillProbGate(l.deps.FillModel, fs, l.cfg.FillProbThresholdBps, l.cfg.FillProbEnforce)

	if !ddDecision.Allowed || !rlDecision.Allowed || fpDecision.Decision == riskgate.FillBlock {
		result.Gated = true
		switch {
		case !ddDecision.Allowed:
			result.GateReason = ddDecision.Reason
		case !rlDecision.Allowed:
			result.GateReason = string(rlDecision.Reason)
		default:
			result.GateReason = fpDecision.Reason
		}
		l.deps.Logger.Debug("tick gated", "symbol", snap.Symbol, "reason", result.GateReason)
		return result
	}

	// Step 5: execution engine evaluation.
	evalResult := execengine.Evaluate(symCfg.Plan, snap.Symbol, rt.engineState, snap.TsMs)

	// Step 6-9: per action, route / dedup / dispatch / record.
	outcomes := make([]ActionOutcome, 0, len(evalResult.Actions))
	orderIDs := make(map[int]string, len(evalResult.Actions))
	for i, action := range evalResult.Actions {
		outcome := l.handleAction(ctx, snap, symCfg, rt, action, ddDecision)
		outcomes = append(outcomes, outcome)
		if outcome.OrderID != "" {
			orderIDs[i] = outcome.OrderID
		}
	}
	result.Outcomes = outcomes

	rt.engineState = execengine.ApplyActions(rt.engineState, evalResult.Actions, orderIDs)
	if rlDecision.Allowed && len(evalResult.Actions) > 0 {
		l.deps.RateLimit.RecordOrder(snap.TsMs)
	}

	return result
}

// handleAction routes one execution action through SOR, dedups it through
// the idempotency store, dispatches it against the exchange port, and
// records the outcome into the Expected store.
func (l *LiveLoop) handleAction(ctx context.Context, snap core.Snapshot, symCfg *SymbolConfig, rt *symbolRuntime, action core.ExecutionAction, dd riskgate.AllowDecision) ActionOutcome {
	lk := levelKey(action.Side, action.LevelID)

	existing := sor.ExistingOrder{}
	priorOrderID := ""
	if prior, ok := rt.engineState.Lookup(action.Side, action.LevelID); ok {
		existing = sor.ExistingOrder{Present: true, Price: prior.Price, Quantity: prior.Qty}
		priorOrderID = prior.OrderID
	}

	route := sor.Route(sor.Inputs{
		Side:                   action.Side,
		Price:                  action.Price,
		Quantity:               action.Quantity,
		BestBid:                snap.BestBid,
		BestAsk:                snap.BestAsk,
		Filters:                symCfg.Filters,
		DrawdownBreached:       !dd.Allowed,
		UpdatesRemaining:       l.cfg.UpdatesRemainingPerRun,
		CancelReplaceRemaining: l.cfg.CancelReplaceRemaining,
		Existing:               existing,
		VenueSupportsAmend:     l.cfg.VenueSupportsAmend,
		PriceEpsTicks:          l.cfg.PriceEpsTicks,
		QtyEpsSteps:            l.cfg.QtyEpsSteps,
	})

	outcome := ActionOutcome{Action: action, RouteResult: route}
	if route.Decision == sor.DecisionBlock {
		l.deps.Logger.Warn("action blocked by router", "symbol", snap.Symbol, "side", action.Side, "level_id", action.LevelID, "reason", route.Reason)
		return outcome
	}
	if route.Decision == sor.DecisionNoop {
		return outcome
	}

	// Cancel/amend act on the order already resting at this level and
	// must reuse its client order id so the Expected store update lands
	// on the same entry; place always mints a fresh one.
	clientOrderID := rt.clientOrderIDs[lk]
	if action.ActionType == core.ActionPlace || clientOrderID == "" {
		rt.seq++
		clientOrderID = core.NewClientOrderID(core.ClientOrderIDParts{
			StrategyID: l.cfg.StrategyID,
			Symbol:     snap.Symbol,
			LevelID:    action.LevelID,
			TsMs:       snap.TsMs,
			Seq:        rt.seq,
		})
	}

	key := idempotency.ComputeKey("order", string(action.ActionType), idempotency.KeyParams{
		Symbol:   snap.Symbol,
		Side:     string(action.Side),
		Price:    action.Price,
		Quantity: action.Quantity,
		LevelID:  action.LevelID,
	})

	now := l.deps.Clock.NowMs()
	if entry, ok := l.deps.Idempotent.Get(key, now); ok && entry.Status == core.IdempotencyDone {
		outcome.Idempotent = true
		if oid, ok := entry.CachedResult.(string); ok {
			outcome.OrderID = oid
		}
		return outcome
	}

	if !l.deps.Idempotent.PutIfAbsent(key, core.IdempotencyEntry{
		Key:         key,
		Status:      core.IdempotencyInflight,
		OpName:      string(action.ActionType),
		CreatedAtMs: now,
	}, now) {
		// Another caller already owns this key in flight; skip dispatch
		// this tick rather than race it.
		return outcome
	}

	orderID, err := l.dispatch(ctx, snap, action, clientOrderID, priorOrderID, now)
	if err != nil {
		l.deps.Idempotent.MarkFailed(key, classifyDispatchError(err))
		outcome.Err = err
		return outcome
	}

	l.deps.Idempotent.MarkDone(key, orderID, now, l.cfg.IdempotencyTTLMs)
	outcome.OrderID = orderID

	switch action.ActionType {
	case core.ActionPlace:
		rt.clientOrderIDs[lk] = clientOrderID
	case core.ActionCancel:
		delete(rt.clientOrderIDs, lk)
	}

	l.deps.Expected.PutOrder(core.ExpectedOrder{
		ClientOrderID:  clientOrderID,
		Symbol:         snap.Symbol,
		Side:           action.Side,
		Type:           core.OrderTypeLimit,
		Price:          action.Price,
		Quantity:       action.Quantity,
		LevelID:        action.LevelID,
		CreatedTsMs:    snap.TsMs,
		ExpectedStatus: expectedStatusFor(action.ActionType),
	}, now)

	return outcome
}

// dispatch executes one action against the exchange port per its type.
// Cancel and amend act on the exchange-assigned id of the order already
// resting at this level; place mints a fresh client order id.
func (l *LiveLoop) dispatch(ctx context.Context, snap core.Snapshot, action core.ExecutionAction, clientOrderID, priorOrderID string, tsMs int64) (string, error) {
	switch action.ActionType {
	case core.ActionPlace:
		return l.deps.Port.PlaceOrder(ctx, snap.Symbol, action.Side, action.Price, action.Quantity, action.LevelID, clientOrderID, tsMs)
	case core.ActionCancel:
		if priorOrderID == "" {
			return "", nil
		}
		_, err := l.deps.Port.CancelOrderByExchangeID(ctx, snap.Symbol, priorOrderID)
		return "", err
	case core.ActionAmend:
		if priorOrderID == "" {
			return "", nil
		}
		return l.deps.Port.ReplaceOrder(ctx, priorOrderID, action.Price, action.Quantity)
	default:
		return "", nil
	}
}

// handleRemediation runs the full gate chain and, if it clears, executes
// the corrective action against the exchange port. Invoked only from the
// live loop's own goroutine (via Run's select), so remediation writes are
// ordered against normal order writes as the concurrency model requires.
func (l *LiveLoop) handleRemediation(req reconcile.RemediationRequest) reconcile.RemediationDecision {
	nowMs := l.deps.Clock.NowMs()
	decision := reconcile.Gate(l.deps.GateCfg, req, l.deps.HA, l.deps.RunBudget, l.deps.DayBudget, time.UnixMilli(nowMs).UTC(), l.deps.Counters)
	if !decision.Execute {
		return decision
	}

	ctx := context.Background()
	switch req.Action {
	case reconcile.ActionCancelAll:
		for _, o := range l.deps.Observed.Orders() {
			if o.Symbol != req.Symbol || !core.HasGrinderPrefix(o.ClientOrderID) || o.Status.IsTerminal() || o.OrderID == "" {
				continue
			}
			_, _ = l.deps.Port.CancelOrderByExchangeID(ctx, req.Symbol, o.OrderID)
		}
	case reconcile.ActionFlatten:
		if pos, ok := l.deps.Observed.Position(req.Symbol); ok && !pos.Quantity.IsZero() {
			side := core.SideSell
			if pos.Quantity.IsNegative() {
				side = core.SideBuy
			}
			_, _ = l.deps.Port.PlaceMarketOrder(ctx, req.Symbol, side, pos.Quantity.Abs(), true)
		}
	}

	return decision
}

func expectedStatusFor(t core.ActionType) core.OrderStatus {
	if t == core.ActionCancel {
		return core.OrderStatusCancelled
	}
	return core.OrderStatusNew
}

func classifyDispatchError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// positionNotional sums position notional via
// accountsync.ComputePositionNotional. Nothing in this package calls it:
// the live loop and the syncer never set the FSM's PositionNotionalUsd
// input, so EMERGENCY does not recover to PAUSED from the orchestrator.
func positionNotional(positions []core.ObservedPosition) decimal.Decimal {
	return accountsync.ComputePositionNotional(positions)
}
