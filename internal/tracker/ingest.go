package tracker

import (
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/backend"
	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tabs"
)

// ingest applies one backend push event. Decode failures are logged and
// dropped whole: no partial mutation, state stays as it was until the next
// successful event or tick.
func (t *Tracker) ingest(ev backend.Event) {
	t.metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	switch ev.Kind {
	case backend.EventAdd:
		t.onAdd(ev.Payload)
	case backend.EventRemove:
		t.onRemove(ev.Payload)
	default:
		t.log.Warn("unknown event kind", zap.Int("kind", int(ev.Kind)))
	}
}

func (t *Tracker) onAdd(payload []byte) {
	s, err := backend.DecodeAdd(payload)
	if err != nil {
		t.metrics.DecodeErrors.Inc()
		t.log.Warn("dropping malformed add event", zap.Error(err))
		return
	}

	if s.Authorized {
		t.addAuthorized(s)
		return
	}

	// Duplicate delivery of the same unauthorized session is a no-op.
	if _, ok := t.registry.Get(s.ID); ok {
		t.log.Debug("duplicate add ignored", zap.Int("id", s.ID))
		return
	}

	// An older disconnected record from the same peer is superseded by
	// this fresh connection. Look it up before inserting so the new
	// record can never match itself.
	old, hasOld := t.registry.FindDisconnected(s.PeerID)

	if err := t.registry.Insert(s); err != nil {
		t.log.Warn("insert failed", zap.Int("id", s.ID), zap.Error(err))
		return
	}
	t.tabs.Append(tabs.EntryFor(s))

	if hasOld && old.ID != s.ID {
		t.registry.Remove(old.ID)
		t.tabs.RemoveByID(old.ID)
		t.dismissPending(old.ID)
		t.emitStats(session.EventSuperseded, &old)
		t.log.Info("superseded disconnected session",
			zap.Int("old_id", old.ID),
			zap.Int("new_id", s.ID),
			zap.String("peer", s.PeerID))
	}

	t.log.Info("session added",
		zap.Int("id", s.ID),
		zap.String("peer", s.PeerID),
		zap.Bool("file_transfer", s.IsFileTransfer))
	t.emitStats(session.EventAdded, &s)

	if t.cfg.Interactive {
		t.requestAuth(s)
	}

	t.mutSeq++
	t.publish()
}

// addAuthorized handles an add event whose record the backend already
// authorized: any pending dialog is dismissed and the record is inserted
// or updated in place. Idempotent on duplicate delivery.
func (t *Tracker) addAuthorized(s session.Session) {
	t.dismissPending(s.ID)

	if _, ok := t.registry.Get(s.ID); ok {
		t.registry.Update(s.ID, func(rec *session.Session) { *rec = s })
		// Rebuild the whole entry; a redelivery may rename the session.
		t.tabs.Update(tabs.EntryFor(s))
	} else {
		if err := t.registry.Insert(s); err != nil {
			t.log.Warn("insert failed", zap.Int("id", s.ID), zap.Error(err))
			return
		}
		t.tabs.Append(tabs.EntryFor(s))
		t.log.Info("authorized session added",
			zap.Int("id", s.ID), zap.String("peer", s.PeerID))
		t.emitStats(session.EventAdded, &s)
	}

	t.mutSeq++
	t.publish()
}

func (t *Tracker) onRemove(payload []byte) {
	id, closeSession, err := backend.DecodeRemove(payload)
	if err != nil {
		t.metrics.DecodeErrors.Inc()
		t.log.Warn("dropping malformed remove event", zap.Error(err))
		return
	}

	if closeSession {
		if rec, ok := t.registry.Remove(id); ok {
			t.tabs.RemoveByID(id)
			t.log.Info("session removed", zap.Int("id", id))
			t.emitStats(session.EventRemoved, &rec)
		}
	} else {
		err := t.registry.Update(id, func(s *session.Session) { s.Disconnected = true })
		if err != nil {
			t.log.Debug("remove event for unknown session", zap.Int("id", id))
		} else {
			t.log.Info("session disconnected", zap.Int("id", id))
		}
	}

	// The dialog and its external notification go away in both cases.
	delete(t.pending, id)
	t.notifier.CancelDecision(id)

	t.mutSeq++
	t.publish()
}
