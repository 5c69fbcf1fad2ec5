package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/backend"
	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tabs"
)

// pollTick launches one reconciliation round. The backend calls run on a
// separate goroutine so push events keep flowing through the loop while a
// round is in progress; the finished round comes back through t.fetches.
// At most one round is in flight at a time.
func (t *Tracker) pollTick(ctx context.Context) {
	if t.fetchInFlight {
		return
	}
	t.fetchInFlight = true

	local := t.registry.Len()
	seq := t.mutSeq

	go func() {
		res := fetchResult{seq: seq}

		res.status, res.statusErr = t.backend.Status(ctx)

		res.mismatch, res.countErr = t.backend.CountMismatch(ctx, local)
		if res.countErr == nil && res.mismatch {
			var snap backend.Snapshot
			snap, res.snapErr = t.backend.Snapshot(ctx)
			if res.snapErr == nil {
				res.snap = &snap
			}
		}

		select {
		case t.fetches <- res:
		case <-ctx.Done():
		}
	}()
}

// applyFetch folds a completed poll round back into loop state.
func (t *Tracker) applyFetch(res fetchResult) {
	t.recordHealth(res.status, res.statusErr)

	if res.countErr != nil {
		t.log.Warn("count check failed", zap.Error(res.countErr))
		return
	}
	if !res.mismatch {
		return
	}
	if res.snapErr != nil {
		t.log.Warn("snapshot fetch failed", zap.Error(res.snapErr))
		return
	}

	// Events may have landed between the fetch launch and now, and the
	// backend may have moved past the generation we fetched. Either way
	// the snapshot no longer describes anything worth installing; drop
	// it and let the next tick fetch a fresh one.
	if res.seq != t.mutSeq {
		t.metrics.StaleSnapshots.Inc()
		t.log.Info("discarding stale snapshot",
			zap.Uint64("fetched_at_seq", res.seq),
			zap.Uint64("current_seq", t.mutSeq))
		return
	}
	if res.snap.Generation < t.lastGen {
		t.metrics.StaleSnapshots.Inc()
		t.log.Info("discarding outdated snapshot",
			zap.Uint64("generation", res.snap.Generation),
			zap.Uint64("applied", t.lastGen))
		return
	}

	t.resync(*res.snap)
}

// resync performs the full replace: registry and projection are rebuilt in
// snapshot order, and the pending map is reconciled against the new ground
// truth. Coarse-grained by design; per-session dialog state for sessions
// that survived the replace is re-surfaced from the snapshot.
func (t *Tracker) resync(snap backend.Snapshot) {
	t.registry.Replace(snap.Sessions)

	entries := make([]tabs.Entry, 0, len(snap.Sessions))
	for _, rec := range t.registry.All() {
		entries = append(entries, tabs.EntryFor(rec))
	}
	t.tabs.Replace(entries)

	t.lastGen = snap.Generation
	t.mutSeq++

	// Pending entries for sessions the backend no longer reports, or now
	// reports authorized or disconnected, are stale: auto-dismiss them.
	for id := range t.pending {
		rec, ok := t.registry.Get(id)
		if !ok || rec.Authorized || rec.Disconnected {
			t.dismissPending(id)
		}
	}

	// Unauthorized connected sessions need a decision surface; re-request
	// for any the replace orphaned.
	if t.cfg.Interactive {
		for _, rec := range t.registry.All() {
			if !rec.Authorized && !rec.Disconnected {
				t.requestAuth(rec)
			}
		}
	}

	t.metrics.ResyncsTotal.Inc()
	t.log.Info("resync applied",
		zap.Int("sessions", t.registry.Len()),
		zap.Uint64("generation", snap.Generation))
	t.emitStats(session.EventResync, nil)
	t.publish()
}

// recordHealth folds a status query result into the failure counter and
// publishes the advisory status on transitions only.
func (t *Tracker) recordHealth(code int, err error) {
	if err != nil {
		t.healthFailures++
		t.log.Warn("status query failed",
			zap.Int("consecutive", t.healthFailures), zap.Error(err))
		code = backend.StatusNotReady
	} else {
		t.healthFailures = 0
	}

	st := Status{Code: code, Health: t.classifyHealth()}
	if t.lastStatus != nil && st.Code == t.lastStatus.Code && st.Health == t.lastStatus.Health {
		return
	}
	if t.loadFn != nil {
		st.Load = t.loadFn()
	}
	t.lastStatus = &st
	t.notifier.PublishStatus(st)
	t.log.Info("backend status changed",
		zap.Int("code", st.Code), zap.String("health", string(st.Health)))
}

func (t *Tracker) classifyHealth() Health {
	switch {
	case t.healthFailures == 0:
		return HealthHealthy
	case t.healthFailures < t.cfg.HealthThreshold:
		return HealthDegraded
	default:
		return HealthUnreachable
	}
}
