// Package exchangeport defines the abstract boundary between the core
// decision pipeline and a concrete exchange connector. Grounded on the
// teacher's internal/core exchange client interface, generalized to the
// spec's named method set and five-kind connector error taxonomy.
package exchangeport

import (
	"context"

	"github.com/shopspring/decimal"

	"gridcore/internal/accountsync"
	"gridcore/internal/core"
)

// PositionMode is the exchange's margin/position mode.
type PositionMode string

const (
	PositionModeHedge  PositionMode = "hedge"
	PositionModeOneWay PositionMode = "one-way"
)

// Port is the full capability surface the core requires of any
// connector. Errors returned by any method are always *pkg/errors.ConnectorError.
type Port interface {
	PlaceOrder(ctx context.Context, symbol string, side core.Side, price, quantity decimal.Decimal, levelID uint64, clientOrderID string, tsMs int64) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	CancelOrderByExchangeID(ctx context.Context, symbol, id string) (bool, error)
	ReplaceOrder(ctx context.Context, orderID string, newPrice, newQuantity decimal.Decimal) (newOrderID string, err error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]core.ObservedOrder, error)
	FetchPositions(ctx context.Context) ([]core.ObservedPosition, error)
	FetchAccountSnapshot(ctx context.Context) (accountsync.AccountSnapshot, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, quantity decimal.Decimal, reduceOnly bool) (orderID string, err error)
	SetLeverage(ctx context.Context, symbol string, n int) (int, error)
	GetPositionMode(ctx context.Context) (PositionMode, error)
}
