// Package stats accumulates lifetime session statistics from tracking
// events and persists them across restarts.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/session"
)

const saveInterval = 30 * time.Second

// Tracker observes session lifecycle events and maintains aggregate stats.
// It receives events from the tracking core via a channel and periodically
// persists the accumulated stats to disk.
type Tracker struct {
	persist *Store
	stats   *Stats
	events  chan session.Event
	log     *zap.Logger
	mu      sync.Mutex
	dirty   bool
	counted map[int]bool // session ids already counted for SessionsSeen
}

// NewTracker creates a Tracker backed by the given persistence store. It
// loads existing stats from disk and returns a send-only channel for the
// tracking core to deliver events on. The caller must run Run in a
// goroutine.
func NewTracker(persist *Store, log *zap.Logger) (*Tracker, chan<- session.Event, error) {
	stats, err := persist.Load()
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan session.Event, 256)
	t := &Tracker{
		persist: persist,
		stats:   stats,
		events:  ch,
		log:     log,
		counted: make(map[int]bool),
	}
	return t, ch, nil
}

// Run processes events and periodically saves dirty stats to disk. It
// blocks until ctx is cancelled, then performs a final save.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.save()
			return
		case ev := <-t.events:
			t.processEvent(ev)
		case <-ticker.C:
			if t.dirty {
				t.save()
			}
		}
	}
}

// Stats returns a deep copy of the current aggregate stats.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

func (t *Tracker) processEvent(ev session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Total > t.stats.MaxConcurrent {
		t.stats.MaxConcurrent = ev.Total
	}

	s := ev.State

	switch ev.Type {
	case session.EventAdded:
		if s == nil || t.counted[s.ID] {
			break
		}
		t.counted[s.ID] = true
		t.stats.SessionsSeen++
		t.stats.SessionsPerPeer[s.PeerID]++
		t.stats.DistinctPeers = len(t.stats.SessionsPerPeer)
		if s.IsFileTransfer {
			t.stats.FileTransfers++
		}

	case session.EventAccepted:
		t.stats.Accepted++

	case session.EventRejected:
		t.stats.Rejected++
		if s != nil {
			delete(t.counted, s.ID)
		}

	case session.EventSuperseded:
		t.stats.Superseded++
		if s != nil {
			delete(t.counted, s.ID)
		}

	case session.EventRemoved:
		if s != nil {
			delete(t.counted, s.ID)
		}

	case session.EventResync:
		t.stats.Resyncs++
	}

	t.dirty = true
}

func (t *Tracker) save() {
	t.mu.Lock()
	stats := t.stats.clone()
	t.dirty = false
	t.mu.Unlock()

	if err := t.persist.Save(stats); err != nil {
		t.log.Warn("stats save failed", zap.Error(err))
	}
}
