// Package observability registers the stable grinder_* metric surface on
// an OTel meter, grounded on the teacher's
// internal/infrastructure/metrics server plus pkg/http's meter-based
// counters, generalized to the spec's required metric-name contract and
// label-cardinality rules.
package observability

import (
	"go.opentelemetry.io/otel/metric"
)

// forbiddenLabelKeys are never permitted on any instrument registered
// through this package: each would blow up cardinality against a
// wire-visible high-cardinality identifier.
var forbiddenLabelKeys = map[string]bool{
	"symbol":    true,
	"order_id":  true,
	"key":       true,
	"client_id": true,
}

// InstrumentSpec describes one metric this package registers, named so a
// test can walk the full set and assert label hygiene statically rather
// than by exercising every call site at runtime.
type InstrumentSpec struct {
	Name   string
	Labels []string
}

// RequiredInstruments is the non-exhaustive but stable metric-name
// contract named in the spec's observability surface.
var RequiredInstruments = []InstrumentSpec{
	{Name: "grinder_up"},
	{Name: "grinder_uptime_seconds"},
	{Name: "grinder_ha_role", Labels: []string{"role"}},
	{Name: "grinder_ha_is_leader"},
	{Name: "grinder_kill_switch_triggered"},
	{Name: "grinder_drawdown_pct"},
	{Name: "grinder_reconcile_mismatch_total", Labels: []string{"type"}},
	{Name: "grinder_reconcile_action_planned_total", Labels: []string{"action"}},
	{Name: "grinder_reconcile_action_executed_total", Labels: []string{"action"}},
	{Name: "grinder_reconcile_action_blocked_total", Labels: []string{"reason"}},
	{Name: "grinder_reconcile_budget_calls_today"},
	{Name: "grinder_reconcile_budget_notional_today"},
	{Name: "grinder_router_fill_prob_blocks_total"},
	{Name: "grinder_router_fill_prob_enforce_enabled"},
	{Name: "grinder_ml_active_on"},
	{Name: "grinder_ml_block_total", Labels: []string{"reason"}},
	{Name: "grinder_ml_inference_latency_ms"},
	{Name: "grinder_data_stale_total", Labels: []string{"stream"}},
	{Name: "grinder_data_gap_total", Labels: []string{"stream"}},
	{Name: "grinder_data_outlier_total", Labels: []string{"kind"}},
	{Name: "grinder_http_requests_total", Labels: []string{"op", "outcome_class"}},
	{Name: "grinder_http_retries_total", Labels: []string{"op"}},
	{Name: "grinder_http_fails_total", Labels: []string{"op", "class"}},
	{Name: "grinder_http_latency_ms", Labels: []string{"op"}},
}

// ValidateLabelHygiene returns every forbidden label key found across
// RequiredInstruments, empty when the contract holds.
func ValidateLabelHygiene(instruments []InstrumentSpec) []string {
	var violations []string
	for _, inst := range instruments {
		for _, label := range inst.Labels {
			if forbiddenLabelKeys[label] {
				violations = append(violations, inst.Name+":"+label)
			}
		}
	}
	return violations
}

// Registry is the set of live instruments bound to a meter, built once at
// startup and handed to every component that needs to record a metric.
type Registry struct {
	Up                   metric.Int64ObservableGauge
	HAIsLeader           metric.Int64ObservableGauge
	KillSwitchTriggered  metric.Int64ObservableGauge
	DrawdownPct          metric.Float64ObservableGauge
	ReconcileMismatch    metric.Int64Counter
	ActionPlanned        metric.Int64Counter
	ActionExecuted       metric.Int64Counter
	ActionBlocked        metric.Int64Counter
	FillProbBlocks       metric.Int64Counter
	MLBlockTotal         metric.Int64Counter
	MLInferenceLatencyMs metric.Float64Histogram
	DataStale            metric.Int64Counter
	DataGap               metric.Int64Counter
	DataOutlier           metric.Int64Counter
}

// NewRegistry constructs the counters and the histogram of
// RequiredInstruments against meter, except the grinder_http_* ones, which
// httpx.NewClient creates. It also creates the grinder_up, ha_is_leader,
// kill_switch_triggered and drawdown_pct observable gauges without
// callbacks; the caller registers those, since their values come from
// component-owned state. The remaining gauges (uptime_seconds, ha_role,
// the budget gauges, fill_prob_enforce_enabled, ml_active_on) are not
// created here.
func NewRegistry(meter metric.Meter) (*Registry, error) {
	r := &Registry{}
	var err error

	if r.Up, err = meter.Int64ObservableGauge("grinder_up"); err != nil {
		return nil, err
	}
	if r.HAIsLeader, err = meter.Int64ObservableGauge("grinder_ha_is_leader"); err != nil {
		return nil, err
	}
	if r.KillSwitchTriggered, err = meter.Int64ObservableGauge("grinder_kill_switch_triggered"); err != nil {
		return nil, err
	}
	if r.DrawdownPct, err = meter.Float64ObservableGauge("grinder_drawdown_pct"); err != nil {
		return nil, err
	}
	if r.ReconcileMismatch, err = meter.Int64Counter("grinder_reconcile_mismatch_total"); err != nil {
		return nil, err
	}
	if r.ActionPlanned, err = meter.Int64Counter("grinder_reconcile_action_planned_total"); err != nil {
		return nil, err
	}
	if r.ActionExecuted, err = meter.Int64Counter("grinder_reconcile_action_executed_total"); err != nil {
		return nil, err
	}
	if r.ActionBlocked, err = meter.Int64Counter("grinder_reconcile_action_blocked_total"); err != nil {
		return nil, err
	}
	if r.FillProbBlocks, err = meter.Int64Counter("grinder_router_fill_prob_blocks_total"); err != nil {
		return nil, err
	}
	if r.MLBlockTotal, err = meter.Int64Counter("grinder_ml_block_total"); err != nil {
		return nil, err
	}
	if r.MLInferenceLatencyMs, err = meter.Float64Histogram(
		"grinder_ml_inference_latency_ms",
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 200, 500),
	); err != nil {
		return nil, err
	}
	if r.DataStale, err = meter.Int64Counter("grinder_data_stale_total"); err != nil {
		return nil, err
	}
	if r.DataGap, err = meter.Int64Counter("grinder_data_gap_total"); err != nil {
		return nil, err
	}
	if r.DataOutlier, err = meter.Int64Counter("grinder_data_outlier_total"); err != nil {
		return nil, err
	}

	return r, nil
}
