// Package accountsync periodically fetches exchange-observed positions
// and open orders, guards against regressed or malformed snapshots, and
// feeds clean mismatches to the reconciler. Grounded on the teacher's
// internal/risk OrderCleaner fetch-and-classify loop, generalized to the
// spec's ts-regression/duplicate-key/negative-qty/orphan-order detectors.
package accountsync

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"gridcore/internal/core"
)

// AccountSnapshot is the raw shape an ExchangePort fetch returns.
type AccountSnapshot struct {
	Positions  []core.ObservedPosition
	OpenOrders []core.ObservedOrder
	TsMs       int64
}

// ExchangePort is the narrow capability the syncer needs from a
// connector; the full port interface lives in internal/exchangeport.
type ExchangePort interface {
	FetchAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// ErrorCounter receives a fetch-error classification tag.
type ErrorCounter interface {
	IncSyncError(errorClass string)
}

type noopErrorCounter struct{}

func (noopErrorCounter) IncSyncError(string) {}

// SyncResult is the outcome of one Sync call.
type SyncResult struct {
	OK         bool
	Positions  []core.ObservedPosition
	OpenOrders []core.ObservedOrder
	TsMs       int64
	Mismatches []core.Mismatch
}

// Syncer owns the monotonic-ts guard across successive Sync calls.
type Syncer struct {
	port    ExchangePort
	errors  ErrorCounter
	lastTs  int64
}

// NewSyncer constructs a syncer. A nil ErrorCounter is replaced with a
// no-op.
func NewSyncer(port ExchangePort, errors ErrorCounter) *Syncer {
	if errors == nil {
		errors = noopErrorCounter{}
	}
	return &Syncer{port: port, errors: errors}
}

// Sync fetches one account snapshot and classifies it. knownOrderIDs, if
// non-nil, enables orphan-order detection.
func (s *Syncer) Sync(ctx context.Context, knownOrderIDs map[string]bool) SyncResult {
	snap, err := s.port.FetchAccountSnapshot(ctx)
	if err != nil {
		s.errors.IncSyncError(classifyError(err))
		return SyncResult{OK: false}
	}

	var mismatches []core.Mismatch

	if snap.TsMs <= s.lastTs {
		mismatches = append(mismatches, core.Mismatch{
			Type: core.MismatchTsRegression, TsDetectedMs: snap.TsMs,
			ActionPlan: fmt.Sprintf("observed ts %d <= last_ts %d, discarding", snap.TsMs, s.lastTs),
		})
		return SyncResult{OK: true, Mismatches: mismatches}
	}

	positionKeys := make(map[string]bool)
	for _, p := range snap.Positions {
		key := string(p.Symbol) + "|" + string(p.Side)
		if positionKeys[key] {
			mismatches = append(mismatches, core.Mismatch{
				Type: core.MismatchDuplicateKey, Symbol: p.Symbol, TsDetectedMs: snap.TsMs,
				ActionPlan: "duplicate position key " + key,
			})
		}
		positionKeys[key] = true

		if p.Quantity.IsNegative() {
			mismatches = append(mismatches, core.Mismatch{
				Type: core.MismatchNegativeQty, Symbol: p.Symbol, TsDetectedMs: snap.TsMs,
				ActionPlan: "negative position qty " + p.Quantity.String(),
			})
		}
	}

	orderKeys := make(map[string]bool)
	for _, o := range snap.OpenOrders {
		if orderKeys[o.OrderID] {
			mismatches = append(mismatches, core.Mismatch{
				Type: core.MismatchDuplicateKey, Symbol: o.Symbol, ClientOrderID: o.ClientOrderID, TsDetectedMs: snap.TsMs,
				ActionPlan: "duplicate order_id " + o.OrderID,
			})
		}
		orderKeys[o.OrderID] = true

		if o.Quantity.IsNegative() {
			mismatches = append(mismatches, core.Mismatch{
				Type: core.MismatchNegativeQty, Symbol: o.Symbol, ClientOrderID: o.ClientOrderID, TsDetectedMs: snap.TsMs,
				ActionPlan: "negative order qty " + o.Quantity.String(),
			})
		}

		if knownOrderIDs != nil && !knownOrderIDs[o.OrderID] {
			mismatches = append(mismatches, core.Mismatch{
				Type: core.MismatchOrphanOrder, Symbol: o.Symbol, ClientOrderID: o.ClientOrderID, TsDetectedMs: snap.TsMs,
				ActionPlan: "order_id " + o.OrderID + " not in known set",
			})
		}
	}

	s.lastTs = snap.TsMs

	return SyncResult{
		OK: true, Positions: snap.Positions, OpenOrders: snap.OpenOrders, TsMs: snap.TsMs,
		Mismatches: mismatches,
	}
}

// LastTs returns the most recently accepted snapshot timestamp.
func (s *Syncer) LastTs() int64 { return s.lastTs }

func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", err)
}

// ComputePositionNotional sums |qty| * mark_price across positions, used
// by the FSM's EMERGENCY-recovery gate to decide whether the account is
// flat enough to recover.
func ComputePositionNotional(positions []core.ObservedPosition) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Quantity.Abs().Mul(p.MarkPrice))
	}
	return total
}
