// Package mockport is a deterministic, in-memory exchangeport.Port
// implementation for tests and local dry runs. Grounded on the teacher's
// deleted protobuf-coupled mock exchange, rebuilt here against the core's
// plain data model with the same idempotent-client-order-id guarantee:
// placing twice with the same client_order_id returns the same order id
// rather than creating a duplicate order.
package mockport

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"gridcore/internal/accountsync"
	"gridcore/internal/core"
	"gridcore/internal/exchangeport"
	gerrors "gridcore/pkg/errors"
)

type order struct {
	id            string
	clientOrderID string
	symbol        string
	side          core.Side
	price         decimal.Decimal
	quantity      decimal.Decimal
	status        core.OrderStatus
}

// Port is an in-memory exchange simulator. Zero value is not usable; use
// New.
type Port struct {
	mu             sync.Mutex
	nextOrderID    int64
	ordersByID     map[string]*order
	ordersByClient map[string]*order
	positions      map[string]core.ObservedPosition
	positionMode   exchangeport.PositionMode
	failNext       map[string]error
	snapshotSeq    int64
}

// New constructs an empty mock exchange in one-way position mode.
func New() *Port {
	return &Port{
		ordersByID:     make(map[string]*order),
		ordersByClient: make(map[string]*order),
		positions:      make(map[string]core.ObservedPosition),
		positionMode:   exchangeport.PositionModeOneWay,
		failNext:       make(map[string]error),
	}
}

// FailNextCall makes the next invocation of the named method return err,
// then clears the injection. Used to exercise connector error handling
// without a live exchange.
func (p *Port) FailNextCall(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[method] = err
}

func (p *Port) takeFailure(method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failNext[method]; ok {
		delete(p.failNext, method)
		return err
	}
	return nil
}

// PlaceOrder is idempotent on clientOrderID: a repeated call with the
// same id returns the original order id rather than creating a new order.
func (p *Port) PlaceOrder(ctx context.Context, symbol string, side core.Side, price, quantity decimal.Decimal, levelID uint64, clientOrderID string, tsMs int64) (string, error) {
	if err := p.takeFailure("PlaceOrder"); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.ordersByClient[clientOrderID]; ok {
		return existing.id, nil
	}

	p.nextOrderID++
	o := &order{
		id: fmt.Sprintf("mock-%d", p.nextOrderID), clientOrderID: clientOrderID,
		symbol: symbol, side: side, price: price, quantity: quantity, status: core.OrderStatusNew,
	}
	p.ordersByID[o.id] = o
	p.ordersByClient[clientOrderID] = o
	return o.id, nil
}

// CancelOrder marks orderID cancelled if present and not already terminal.
func (p *Port) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := p.takeFailure("CancelOrder"); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.ordersByID[orderID]
	if !ok {
		return false, gerrors.NewConnectorNonRetryableError("cancel_order", fmt.Errorf("unknown order %s", orderID))
	}
	if o.status.IsTerminal() {
		return false, nil
	}
	o.status = core.OrderStatusCancelled
	return true, nil
}

// CancelOrderByExchangeID behaves like CancelOrder, scoped to a symbol for
// interface parity with a real venue that requires it.
func (p *Port) CancelOrderByExchangeID(ctx context.Context, symbol, id string) (bool, error) {
	return p.CancelOrder(ctx, id)
}

// ReplaceOrder cancels the existing order and places a fresh one at the
// new price/quantity, returning the new order id.
func (p *Port) ReplaceOrder(ctx context.Context, orderID string, newPrice, newQuantity decimal.Decimal) (string, error) {
	if err := p.takeFailure("ReplaceOrder"); err != nil {
		return "", err
	}

	p.mu.Lock()
	o, ok := p.ordersByID[orderID]
	if !ok {
		p.mu.Unlock()
		return "", gerrors.NewConnectorNonRetryableError("replace_order", fmt.Errorf("unknown order %s", orderID))
	}
	symbol, side := o.symbol, o.side
	o.status = core.OrderStatusCancelled
	p.nextOrderID++
	newOrder := &order{
		id: fmt.Sprintf("mock-%d", p.nextOrderID), clientOrderID: o.clientOrderID + "-r",
		symbol: symbol, side: side, price: newPrice, quantity: newQuantity, status: core.OrderStatusNew,
	}
	p.ordersByID[newOrder.id] = newOrder
	p.mu.Unlock()
	return newOrder.id, nil
}

// FetchOpenOrders returns every non-terminal order for symbol.
func (p *Port) FetchOpenOrders(ctx context.Context, symbol string) ([]core.ObservedOrder, error) {
	if err := p.takeFailure("FetchOpenOrders"); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []core.ObservedOrder
	for _, o := range p.ordersByID {
		if o.symbol != symbol || o.status.IsTerminal() {
			continue
		}
		out = append(out, core.ObservedOrder{
			ClientOrderID: o.clientOrderID, OrderID: o.id, Symbol: o.symbol, Side: o.side,
			Price: o.price, Quantity: o.quantity, Status: o.status, Source: core.ObservedSourceRest,
		})
	}
	return out, nil
}

// FetchPositions returns a snapshot of every tracked position.
func (p *Port) FetchPositions(ctx context.Context) ([]core.ObservedPosition, error) {
	if err := p.takeFailure("FetchPositions"); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.ObservedPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// FetchAccountSnapshot combines positions and open orders across all
// symbols into one accountsync.AccountSnapshot, stamped with a per-port
// sequence number as TsMs so successive snapshots strictly increase.
func (p *Port) FetchAccountSnapshot(ctx context.Context) (accountsync.AccountSnapshot, error) {
	if err := p.takeFailure("FetchAccountSnapshot"); err != nil {
		return accountsync.AccountSnapshot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var orders []core.ObservedOrder
	for _, o := range p.ordersByID {
		if o.status.IsTerminal() {
			continue
		}
		orders = append(orders, core.ObservedOrder{
			ClientOrderID: o.clientOrderID, OrderID: o.id, Symbol: o.symbol, Side: o.side,
			Price: o.price, Quantity: o.quantity, Status: o.status, Source: core.ObservedSourceRest,
		})
	}
	var positions []core.ObservedPosition
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	p.snapshotSeq++
	return accountsync.AccountSnapshot{Positions: positions, OpenOrders: orders, TsMs: p.snapshotSeq}, nil
}

// PlaceMarketOrder returns a fresh mock-market-N order id; it records no
// order and leaves SetPosition-seeded positions unchanged.
func (p *Port) PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, quantity decimal.Decimal, reduceOnly bool) (string, error) {
	if err := p.takeFailure("PlaceMarketOrder"); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextOrderID++
	id := fmt.Sprintf("mock-market-%d", p.nextOrderID)
	return id, nil
}

// SetLeverage returns n unchanged and stores nothing, mirroring a venue
// that never rejects a supported leverage tier in this simulator.
func (p *Port) SetLeverage(ctx context.Context, symbol string, n int) (int, error) {
	if err := p.takeFailure("SetLeverage"); err != nil {
		return 0, err
	}
	return n, nil
}

// GetPositionMode returns the simulator's configured mode.
func (p *Port) GetPositionMode(ctx context.Context) (exchangeport.PositionMode, error) {
	if err := p.takeFailure("GetPositionMode"); err != nil {
		return "", err
	}
	return p.positionMode, nil
}

// SetPosition seeds a position for FetchPositions/FetchAccountSnapshot,
// letting tests drive the EMERGENCY-recovery and reconciliation paths
// without a real fill pipeline.
func (p *Port) SetPosition(pos core.ObservedPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Symbol] = pos
}
