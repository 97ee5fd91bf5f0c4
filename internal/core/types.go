// Package core holds the shared data model and capability interfaces that
// flow between every decision-pipeline component: snapshots, bars,
// features, expected/observed order and position state, mismatches,
// execution actions, and idempotency entries.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is a trading side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit from market intents.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the lifecycle status of an order, local or exchange-observed.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether an order in this status can never mutate again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable tick for a symbol. It flows one-way through the
// core: nothing downstream mutates it.
type Snapshot struct {
	TsMs      int64
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	BidQty    decimal.Decimal
	AskQty    decimal.Decimal
	LastPrice decimal.Decimal
	LastQty   decimal.Decimal
}

// MidPrice is the mid of best bid/ask.
func (s Snapshot) MidPrice() decimal.Decimal {
	return s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
}

// MidBar is an OHLC bar aligned by floor division of ts_ms over the bar
// interval. It is created on the first tick of an interval and mutated only
// until a later tick crosses a boundary, at which point it is frozen.
type MidBar struct {
	BarTs     int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	TickCount int
}

// FeatureSnapshot is the per-tick derived view computed purely from past
// bars plus the current snapshot. It carries no identity of its own.
type FeatureSnapshot struct {
	Symbol          string
	TsMs            int64
	MidPrice        decimal.Decimal
	SpreadBps       int64
	ImbalanceL1Bps  int64
	ThinL1          decimal.Decimal
	NatrBps         int64
	Atr             decimal.NullDecimal
	WarmupBars      int
	SumAbsReturnBps int64
	NetReturnBps    int64
	RangeScore      int64
	IsWarmedUp      bool
}

// ExpectedOrder is the system's intent for an order: what it believes it
// has asked the exchange to do. Ring-buffered with TTL-based eviction for
// terminal entries by the Expected store.
type ExpectedOrder struct {
	ClientOrderID  string
	Symbol         string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	LevelID        uint64
	CreatedTsMs    int64
	ExpectedStatus OrderStatus
}

// ExpectedPosition is the system's intended net position for a symbol.
type ExpectedPosition struct {
	Symbol      string
	Side        Side
	Quantity    decimal.Decimal
	CreatedTsMs int64
}

// ObservedSource identifies where an Observed record was last updated from.
type ObservedSource string

const (
	ObservedSourceStream ObservedSource = "stream"
	ObservedSourceRest   ObservedSource = "rest"
)

// ObservedOrder is exchange truth for an order: the same shape as
// ExpectedOrder plus the exchange-assigned order id, fill progress, and
// provenance. A terminal Status blocks all future mutation.
type ObservedOrder struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	LevelID       uint64
	Status        OrderStatus
	TsObserved    int64
	Source        ObservedSource
}

// ObservedPosition is exchange truth for a symbol's net position.
type ObservedPosition struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	MarkPrice  decimal.Decimal
	TsObserved int64
	Source     ObservedSource
}

// MismatchType enumerates the kinds of divergence the reconciler can emit.
type MismatchType string

const (
	MismatchOrderMissingOnExchange  MismatchType = "ORDER_MISSING_ON_EXCHANGE"
	MismatchOrderExistsUnexpected   MismatchType = "ORDER_EXISTS_UNEXPECTED"
	MismatchOrderStatusDivergence   MismatchType = "ORDER_STATUS_DIVERGENCE"
	MismatchPositionNonzeroUnexpect MismatchType = "POSITION_NONZERO_UNEXPECTED"
	MismatchTsRegression            MismatchType = "ts_regression"
	MismatchDuplicateKey            MismatchType = "duplicate_key"
	MismatchNegativeQty             MismatchType = "negative_qty"
	MismatchOrphanOrder             MismatchType = "orphan_order"
)

// Mismatch is a reconciler (or syncer) output describing one divergence
// between the system's model of the world and exchange-observed truth.
type Mismatch struct {
	Type            MismatchType
	Symbol          string
	ClientOrderID   string
	ExpectedSnippet string
	ObservedSnippet string
	TsDetectedMs    int64
	ActionPlan      string
}

// ActionType is the kind of wire-visible write an ExecutionAction performs.
type ActionType string

const (
	ActionPlace  ActionType = "PLACE"
	ActionCancel ActionType = "CANCEL"
	ActionAmend  ActionType = "AMEND"
)

// ExecutionAction is an intent over the wire, produced by the execution
// engine and routed by the SOR before it reaches the idempotency store and
// measured HTTP layer.
type ExecutionAction struct {
	ActionType ActionType
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	LevelID    uint64
	Reason     string
}

// IdempotencyStatus is the lifecycle state of a deduplicated write.
type IdempotencyStatus string

const (
	IdempotencyInflight IdempotencyStatus = "INFLIGHT"
	IdempotencyDone     IdempotencyStatus = "DONE"
	IdempotencyFailed   IdempotencyStatus = "FAILED"
)

// IdempotencyEntry is a single deduplicated-write record.
type IdempotencyEntry struct {
	Key                string
	Status             IdempotencyStatus
	OpName             string
	RequestFingerprint string
	CreatedAtMs        int64
	ExpiresAtMs        int64
	CachedResult       interface{}
	ErrorCode          string
}

// BudgetState is the persisted daily remediation-call counter.
type BudgetState struct {
	Date         string // YYYY-MM-DD, UTC
	CallsToday   int64
	NotionalToday decimal.Decimal
}

// ClientOrderIDParts is the decomposed form of a `grinder_` client order id.
type ClientOrderIDParts struct {
	StrategyID string
	Symbol     string
	LevelID    uint64
	TsMs       int64
	Seq        uint64
}

// NewClientOrderID formats the wire-visible client order id:
// grinder_{strategy_id}_{symbol}_{level_id}_{ts_ms}_{seq}
func NewClientOrderID(p ClientOrderIDParts) string {
	return fmt.Sprintf("grinder_%s_%s_%d_%d_%d", p.StrategyID, p.Symbol, p.LevelID, p.TsMs, p.Seq)
}

// HasGrinderPrefix reports whether a client order id is system-owned and
// therefore safe to cancel by this system.
func HasGrinderPrefix(clientOrderID string) bool {
	const prefix = "grinder_"
	return len(clientOrderID) >= len(prefix) && clientOrderID[:len(prefix)] == prefix
}
