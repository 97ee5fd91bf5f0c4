package orchestrator

import (
	"context"
	"time"

	"gridcore/internal/accountsync"
	"gridcore/internal/clock"
	"gridcore/internal/core"
	"gridcore/internal/reconcile"
	"gridcore/pkg/concurrency"
)

// SyncRunner drives the periodic account syncer and reconciler off the live
// loop's own goroutine: it fetches exchange truth, updates the Observed
// store, runs the reconciler diff, and for any mismatch whose
// ActionPlan names a remediation action, submits a Command to the live
// loop so the gate chain and any corrective call execute in the loop's
// single thread of control.
type SyncRunner struct {
	syncer   *accountsync.Syncer
	observed *reconcile.ObservedStore
	reconciler *reconcile.Reconciler
	clock    clock.Clock
	pool     *concurrency.WorkerPool
	interval time.Duration
	loop     *LiveLoop
	logger   core.ILogger
}

// NewSyncRunner constructs a background task polling every interval.
func NewSyncRunner(syncer *accountsync.Syncer, observed *reconcile.ObservedStore, reconciler *reconcile.Reconciler, clk clock.Clock, pool *concurrency.WorkerPool, interval time.Duration, loop *LiveLoop, logger core.ILogger) *SyncRunner {
	return &SyncRunner{
		syncer: syncer, observed: observed, reconciler: reconciler,
		clock: clk, pool: pool, interval: interval, loop: loop, logger: logger,
	}
}

// Run polls until ctx is cancelled, submitting each poll to the worker pool
// so a slow exchange call never stalls the next tick's scheduling.
func (s *SyncRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.pool.Stop()
			return ctx.Err()
		case <-ticker.C:
			if err := s.pool.Submit(func() { s.pollOnce(ctx) }); err != nil {
				s.logger.Warn("sync poll dropped: worker pool full", "error", err)
			}
		}
	}
}

// pollOnce runs one sync+reconcile pass. Kept unexported; the package's
// own tests in orchestrator_test.go call it directly.
func (s *SyncRunner) pollOnce(ctx context.Context) {
	result := s.syncer.Sync(ctx, nil)
	if !result.OK {
		return
	}

	for _, o := range result.OpenOrders {
		s.observed.PutOrder(o)
	}
	for _, p := range result.Positions {
		s.observed.PutPosition(p)
	}

	mismatches := s.reconciler.Reconcile(s.clock.NowMs())
	for _, m := range mismatches {
		s.logger.Warn("reconcile mismatch", "type", m.Type, "symbol", m.Symbol, "client_order_id", m.ClientOrderID)
		req := remediationRequestFor(m)
		if req == nil {
			continue
		}
		reply := make(chan reconcile.RemediationDecision, 1)
		select {
		case s.loop.commands <- Command{Request: *req, Reply: reply}:
			decision := <-reply
			s.logger.Info("remediation decision", "action", req.Action, "execute", decision.Execute, "reason", decision.Reason)
		case <-ctx.Done():
			return
		}
	}
}

// remediationRequestFor maps a mismatch kind to the corrective action the
// remediation gate chain should consider, nil when the mismatch has none
// (pure detection, e.g. a status divergence the next reconcile pass will
// naturally resolve once the stream catches up).
func remediationRequestFor(m core.Mismatch) *reconcile.RemediationRequest {
	switch m.Type {
	case core.MismatchOrderExistsUnexpected:
		return &reconcile.RemediationRequest{Action: reconcile.ActionCancelAll, Symbol: m.Symbol, ClientOrderID: m.ClientOrderID}
	case core.MismatchPositionNonzeroUnexpect:
		return &reconcile.RemediationRequest{Action: reconcile.ActionFlatten, Symbol: m.Symbol}
	default:
		return nil
	}
}
