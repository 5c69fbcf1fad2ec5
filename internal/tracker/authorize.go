package tracker

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/session"
)

// requestAuth surfaces an authorization request for an unauthorized
// session. At most one pending entry ever exists per id; a second request
// for the same undecided session is a no-op.
func (t *Tracker) requestAuth(s session.Session) {
	if s.Authorized {
		return
	}
	if _, ok := t.pending[s.ID]; ok {
		return
	}
	t.pending[s.ID] = uuid.NewString()
	t.notifier.RequestDecision(s)
	t.log.Info("authorization requested",
		zap.Int("id", s.ID), zap.String("peer", s.PeerID))
}

// dismissPending drops the pending entry for id, if any, and cancels its
// notification.
func (t *Tracker) dismissPending(id int) {
	if _, ok := t.pending[id]; !ok {
		return
	}
	delete(t.pending, id)
	t.notifier.CancelDecision(id)
}

// accept consumes the pending entry for id. The backend send happens
// exactly once per entry: the entry is deleted before anything else, so a
// concurrent second decision finds nothing to consume.
func (t *Tracker) accept(id int) error {
	if _, ok := t.pending[id]; !ok {
		return ErrNotPending
	}
	delete(t.pending, id)

	rec, ok := t.registry.Get(id)
	if !ok {
		// Pending entry outlived its record. Repair quietly.
		t.notifier.CancelDecision(id)
		return ErrNotPending
	}

	go t.sendDecision(id, true)

	t.registry.Update(id, func(s *session.Session) { s.Authorized = true })
	t.tabs.SetAuthorized(id, true)
	t.notifier.CancelDecision(id)

	if !rec.IsFileTransfer && t.capture != nil {
		t.capture.StartCapture(id)
	}

	rec.Authorized = true
	t.log.Info("session accepted", zap.Int("id", id), zap.String("peer", rec.PeerID))
	t.emitStats(session.EventAccepted, &rec)

	t.mutSeq++
	t.publish()
	return nil
}

// reject consumes the pending entry for id, sends the negative decision
// once, and deletes the record and its tab entirely.
func (t *Tracker) reject(id int) error {
	if _, ok := t.pending[id]; !ok {
		return ErrNotPending
	}
	delete(t.pending, id)

	go t.sendDecision(id, false)

	t.notifier.CancelDecision(id)
	if rec, ok := t.registry.Remove(id); ok {
		t.tabs.RemoveByID(id)
		t.log.Info("session rejected", zap.Int("id", id), zap.String("peer", rec.PeerID))
		t.emitStats(session.EventRejected, &rec)
	}

	t.mutSeq++
	t.publish()
	return nil
}

// sendDecision delivers the verdict to the backend. Fire-and-forget:
// failures are logged and never retried (the backend does not acknowledge
// decisions, and the pending entry is already consumed).
func (t *Tracker) sendDecision(id int, accept bool) {
	verdict := "reject"
	if accept {
		verdict = "accept"
	}
	t.metrics.DecisionsTotal.WithLabelValues(verdict).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := t.backend.SendDecision(ctx, id, accept); err != nil {
		t.log.Warn("decision send failed",
			zap.Int("id", id),
			zap.String("verdict", verdict),
			zap.Error(err))
	}
}
