package engine

import (
	"context"
	"time"

	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/pool"
)

// Run drives housekeeping until ctx ends: silent clients are marked stale,
// old records purged, and reassignment runs on its periodic schedule and
// after churn.
func (e *Engine) Run(ctx context.Context) {
	hb := time.NewTicker(e.opts.HeartbeatInterval)
	defer hb.Stop()

	var periodic <-chan time.Time
	if e.opts.ReassignInterval > 0 {
		t := time.NewTicker(e.opts.ReassignInterval)
		defer t.Stop()
		periodic = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			e.Sweep()
		case <-periodic:
			e.TriggerReassignment(ctx, pool.ReasonPeriodic)
		case <-e.churn:
			e.TriggerReassignment(ctx, pool.ReasonChurn)
		}
	}
}

// Sweep performs one housekeeping pass.
func (e *Engine) Sweep() {
	now := e.now()
	stale := e.reg.MarkStaleIfSilent(now, e.opts.StaleAfter)
	purged := e.reg.Purge(now, e.opts.PurgeAfter)
	e.refreshGauges()
	if len(stale) > 0 || len(purged) > 0 {
		logx.Log.Debug().Int("stale", len(stale)).Int("purged", len(purged)).Msg("sweep")
	}
	if len(stale) > 0 {
		e.signalChurn()
	}
}
