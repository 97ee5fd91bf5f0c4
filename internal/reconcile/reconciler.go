package reconcile

import (
	"fmt"

	"gridcore/internal/core"
)

// Reconciler diffs active expected state against observed truth, once per
// cycle, producing a list of mismatches. It owns no mutable state of its
// own beyond the two stores it is handed.
type Reconciler struct {
	expected *ExpectedStore
	observed *ObservedStore
}

// NewReconciler constructs a reconciler bound to the given stores.
func NewReconciler(expected *ExpectedStore, observed *ObservedStore) *Reconciler {
	return &Reconciler{expected: expected, observed: observed}
}

// Reconcile runs one diff cycle at ts and returns every mismatch found.
func (r *Reconciler) Reconcile(ts int64) []core.Mismatch {
	var mismatches []core.Mismatch

	for _, exp := range r.expected.GetActiveOrders(ts) {
		obs, ok := r.observed.Order(exp.ClientOrderID)
		if !ok {
			mismatches = append(mismatches, core.Mismatch{
				Type:            core.MismatchOrderMissingOnExchange,
				Symbol:          exp.Symbol,
				ClientOrderID:   exp.ClientOrderID,
				ExpectedSnippet: fmt.Sprintf("status=%s price=%s qty=%s", exp.ExpectedStatus, exp.Price, exp.Quantity),
				TsDetectedMs:    ts,
				ActionPlan:      "expected order absent from observed state; re-place or re-sync",
			})
			continue
		}
		if obs.Status != exp.ExpectedStatus {
			mismatches = append(mismatches, core.Mismatch{
				Type:            core.MismatchOrderStatusDivergence,
				Symbol:          exp.Symbol,
				ClientOrderID:   exp.ClientOrderID,
				ExpectedSnippet: fmt.Sprintf("status=%s", exp.ExpectedStatus),
				ObservedSnippet: fmt.Sprintf("status=%s", obs.Status),
				TsDetectedMs:    ts,
				ActionPlan:      "expected/observed order status diverge; refresh expected state",
			})
		}
	}

	expectedByClientID := make(map[string]bool)
	for _, exp := range r.expected.GetActiveOrders(ts) {
		expectedByClientID[exp.ClientOrderID] = true
	}
	for _, obs := range r.observed.Orders() {
		if obs.Status.IsTerminal() {
			continue
		}
		if !core.HasGrinderPrefix(obs.ClientOrderID) {
			continue
		}
		if !expectedByClientID[obs.ClientOrderID] {
			mismatches = append(mismatches, core.Mismatch{
				Type:            core.MismatchOrderExistsUnexpected,
				Symbol:          obs.Symbol,
				ClientOrderID:   obs.ClientOrderID,
				ObservedSnippet: fmt.Sprintf("status=%s price=%s qty=%s", obs.Status, obs.Price, obs.Quantity),
				TsDetectedMs:    ts,
				ActionPlan:      "system-owned order observed but not expected; candidate for cancellation",
			})
		}
	}

	expectedPositionsBySymbol := make(map[string]core.ExpectedPosition)
	for _, p := range r.expected.Positions() {
		expectedPositionsBySymbol[p.Symbol] = p
	}
	for symbol, exp := range expectedPositionsBySymbol {
		if !exp.Quantity.IsZero() {
			continue
		}
		obsPos, ok := r.observed.Position(symbol)
		if ok && !obsPos.Quantity.IsZero() {
			mismatches = append(mismatches, core.Mismatch{
				Type:            core.MismatchPositionNonzeroUnexpect,
				Symbol:          symbol,
				ObservedSnippet: fmt.Sprintf("qty=%s", obsPos.Quantity),
				TsDetectedMs:    ts,
				ActionPlan:      "position expected flat but exchange reports nonzero; investigate before remediating",
			})
		}
	}

	return mismatches
}
