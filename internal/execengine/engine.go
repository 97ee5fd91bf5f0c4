package execengine

import (
	"sort"

	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// OpenOrder is the engine's view of one locally tracked open order.
type OpenOrder struct {
	OrderID string
	Side    core.Side
	LevelID uint64
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Status  core.OrderStatus
}

// State is the engine's in-memory open-orders map for one symbol plus a
// monotonically incrementing tick counter used for replay determinism.
type State struct {
	Symbol     string
	OpenOrders map[openOrderKey]OpenOrder
	Tick       uint64
}

type openOrderKey struct {
	Side    core.Side
	LevelID uint64
}

// NewState constructs an empty engine state for a symbol.
func NewState(symbol string) State {
	return State{Symbol: symbol, OpenOrders: make(map[openOrderKey]OpenOrder)}
}

// Lookup returns the locally tracked open order for (side, levelID), if
// any. Exported so callers outside the package (the live loop, building
// SOR inputs) can consult engine state without reaching into the
// unexported key type directly.
func (s State) Lookup(side core.Side, levelID uint64) (OpenOrder, bool) {
	order, ok := s.OpenOrders[openOrderKey{Side: side, LevelID: levelID}]
	return order, ok
}

// Event is the single aggregated outcome of one Evaluate call.
type Event struct {
	Symbol       string
	TsMs         int64
	PlacedCount  int
	CancelledCount int
	ResetAction  ResetAction
	PlanDigest   string
}

// Result is the full output of Evaluate.
type Result struct {
	Actions    []core.ExecutionAction
	Event      Event
	NewState   State
	PlanDigest string
}

// Evaluate reconciles a plan's desired grid levels against the current
// open-orders state and returns the actions needed to converge, a single
// aggregated event, and the updated state. It is a pure function: State is
// passed and returned by value, actions never mutate exchange state
// themselves — ApplyActions does that once the port confirms them.
func Evaluate(plan Plan, symbol string, state State, tsMs int64) Result {
	digest := plan.Digest()

	if state.OpenOrders == nil {
		state = NewState(symbol)
	}

	if plan.Mode == ModePause || plan.Mode == ModeEmergency {
		actions := cancelAll(state)
		return Result{
			Actions: actions,
			Event: Event{
				Symbol: symbol, TsMs: tsMs, CancelledCount: len(actions),
				ResetAction: plan.ResetAction, PlanDigest: digest,
			},
			NewState:   state,
			PlanDigest: digest,
		}
	}

	desired := ComputeLevels(plan)
	desiredByKey := make(map[openOrderKey]Level, len(desired))
	for _, l := range desired {
		desiredByKey[openOrderKey{Side: l.Side, LevelID: l.LevelID}] = l
	}

	var actions []core.ExecutionAction

	if plan.ResetAction == ResetHard {
		actions = append(actions, cancelAll(state)...)
		for _, l := range desired {
			actions = append(actions, placeAction(symbol, l))
		}
		return finalize(plan, symbol, state, tsMs, digest, actions)
	}

	for _, key := range sortedOpenOrderKeys(state.OpenOrders) {
		order := state.OpenOrders[key]
		if order.Status.IsTerminal() {
			continue
		}
		desiredLevel, stillDesired := desiredByKey[key]
		if !stillDesired {
			actions = append(actions, cancelAction(symbol, order))
			continue
		}
		if plan.ResetAction == ResetSoft && levelMismatch(order, desiredLevel) {
			actions = append(actions, cancelAction(symbol, order))
			actions = append(actions, placeAction(symbol, desiredLevel))
		}
	}

	// desired is already in deterministic (side, level_id) order from
	// ComputeLevels; iterate it directly rather than desiredByKey so the
	// sequence of emitted PLACE actions - and the client order ids and
	// idempotency keys the caller mints from that sequence - is
	// bit-identical across runs over identical inputs.
	for _, l := range desired {
		key := openOrderKey{Side: l.Side, LevelID: l.LevelID}
		if existing, exists := state.OpenOrders[key]; !exists || existing.Status.IsTerminal() {
			actions = append(actions, placeAction(symbol, l))
		}
	}

	return finalize(plan, symbol, state, tsMs, digest, actions)
}

// sortedOpenOrderKeys returns state's open-order keys in a deterministic
// (side, level_id) order, so cancel/replace actions are emitted in the same
// sequence across runs instead of following Go's randomized map iteration.
func sortedOpenOrderKeys(openOrders map[openOrderKey]OpenOrder) []openOrderKey {
	keys := make([]openOrderKey, 0, len(openOrders))
	for key := range openOrders {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Side != keys[j].Side {
			return keys[i].Side < keys[j].Side
		}
		return keys[i].LevelID < keys[j].LevelID
	})
	return keys
}

func finalize(plan Plan, symbol string, state State, tsMs int64, digest string, actions []core.ExecutionAction) Result {
	placed, cancelled := 0, 0
	for _, a := range actions {
		switch a.ActionType {
		case core.ActionPlace:
			placed++
		case core.ActionCancel:
			cancelled++
		}
	}
	return Result{
		Actions: actions,
		Event: Event{
			Symbol: symbol, TsMs: tsMs, PlacedCount: placed, CancelledCount: cancelled,
			ResetAction: plan.ResetAction, PlanDigest: digest,
		},
		NewState:   state,
		PlanDigest: digest,
	}
}

func levelMismatch(order OpenOrder, desired Level) bool {
	return !order.Price.Equal(desired.Price) || !order.Qty.Equal(desired.Qty)
}

func cancelAll(state State) []core.ExecutionAction {
	actions := make([]core.ExecutionAction, 0, len(state.OpenOrders))
	for _, key := range sortedOpenOrderKeys(state.OpenOrders) {
		order := state.OpenOrders[key]
		if order.Status.IsTerminal() {
			continue
		}
		actions = append(actions, cancelAction(state.Symbol, order))
	}
	return actions
}

func cancelAction(symbol string, order OpenOrder) core.ExecutionAction {
	return core.ExecutionAction{
		ActionType: core.ActionCancel,
		Symbol:     symbol,
		Side:       order.Side,
		Price:      order.Price,
		Quantity:   order.Qty,
		LevelID:    order.LevelID,
		Reason:     "reconcile_cancel",
	}
}

func placeAction(symbol string, l Level) core.ExecutionAction {
	return core.ExecutionAction{
		ActionType: core.ActionPlace,
		Symbol:     symbol,
		Side:       l.Side,
		Price:      l.Price,
		Quantity:   l.Qty,
		LevelID:    l.LevelID,
		Reason:     "reconcile_place",
	}
}

// ApplyActions applies confirmed actions to state: CANCEL marks the
// matching order CANCELLED, PLACE inserts a new OpenOrder under its
// (side, level_id) key with the port-assigned order id stored in its
// OrderID field; the map is not keyed by order id. The tick counter always increments, even when
// actions is empty, so replay determinism holds across no-op evaluates.
func ApplyActions(state State, actions []core.ExecutionAction, orderIDs map[int]string) State {
	if state.OpenOrders == nil {
		state.OpenOrders = make(map[openOrderKey]OpenOrder)
	}
	for i, a := range actions {
		key := openOrderKey{Side: a.Side, LevelID: a.LevelID}
		switch a.ActionType {
		case core.ActionCancel:
			if order, ok := state.OpenOrders[key]; ok {
				order.Status = core.OrderStatusCancelled
				state.OpenOrders[key] = order
			}
		case core.ActionPlace:
			state.OpenOrders[key] = OpenOrder{
				OrderID: orderIDs[i],
				Side:    a.Side,
				LevelID: a.LevelID,
				Price:   a.Price,
				Qty:     a.Quantity,
				Status:  core.OrderStatusNew,
			}
		}
	}
	state.Tick++
	return state
}
