// Package tracker is the session-tracking core. One control loop owns the
// registry, the tab projection, and the pending-authorization map, and is
// the only writer to them. Everything that can mutate state arrives as a
// message on that loop: poll ticks, backend push events, snapshot fetch
// results, and user commands. Each message handler runs to completion
// before the loop yields, so a logical operation (say, the
// delete-then-insert of a peer supersession) is never split across an
// await. Backend command sends are fired on detached goroutines and never
// block the loop.
package tracker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/backend"
	"github.com/deskbridge/hostd/internal/hostinfo"
	"github.com/deskbridge/hostd/internal/metrics"
	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tabs"
)

// ErrNotPending is returned for a decision on a session that has no
// outstanding authorization entry: never requested, already decided, or
// gone. The decision is discarded and nothing is sent to the backend.
var ErrNotPending = errors.New("tracker: no pending authorization")

const (
	defaultPollInterval    = time.Second
	defaultHealthThreshold = 3
	commandTimeout         = 10 * time.Second
	statsDropLogInterval   = 10 * time.Second
)

// Counts are the derived numbers published alongside the tab list.
type Counts struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Pending   int `json:"pending"`
}

// Health classifies the backend connection from consecutive status-query
// failures.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
)

// Status is the advisory state published to the UI on transitions.
type Status struct {
	Code   int           `json:"code"`
	Health Health        `json:"health"`
	Load   hostinfo.Load `json:"load"`
}

// Notifier is the UI-facing sink for everything the core publishes. All
// methods are called from the control loop and must not block.
type Notifier interface {
	// PublishSessions delivers the ordered tab list and derived counts
	// after a mutation batch.
	PublishSessions(entries []tabs.Entry, counts Counts)

	// RequestDecision surfaces an authorization dialog for a session.
	RequestDecision(s session.Session)

	// CancelDecision withdraws any notification for the session id.
	CancelDecision(id int)

	// Focus asks the UI to focus the tab at the given position.
	Focus(id, index int)

	// PublishStatus delivers backend status and host load.
	PublishStatus(st Status)
}

// Capturer starts screen capture once a non-file-transfer session is
// accepted. The media engine itself is outside this core.
type Capturer interface {
	StartCapture(id int)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(id int)

func (f CapturerFunc) StartCapture(id int) { f(id) }

// Config carries the tunables of the control loop.
type Config struct {
	// PollInterval is the reconciliation period. Defaults to one second.
	PollInterval time.Duration

	// Interactive marks hosts with a user present to answer
	// authorization dialogs. Headless hosts never surface requests;
	// sessions stay unauthorized until the backend reports otherwise.
	Interactive bool

	// HealthThreshold is the consecutive-failure count at which the
	// backend is classified unreachable. Defaults to 3.
	HealthThreshold int
}

type commandKind int

const (
	cmdAccept commandKind = iota
	cmdReject
	cmdJump
)

type command struct {
	kind  commandKind
	id    int
	reply chan error
}

// fetchResult is one completed poll round, re-injected into the control
// loop by the fetch goroutine.
type fetchResult struct {
	seq       uint64 // mutation sequence captured at launch
	status    int
	statusErr error
	mismatch  bool
	countErr  error
	snap      *backend.Snapshot
	snapErr   error
}

// Tracker owns the local session state and keeps it synchronized with the
// backend connection manager.
type Tracker struct {
	cfg      Config
	backend  backend.Client
	notifier Notifier
	capture  Capturer
	metrics  *metrics.Metrics
	log      *zap.Logger

	loadFn  func() hostinfo.Load
	statsCh chan<- session.Event

	// Loop-confined state. Nothing below is touched off the loop.
	registry *session.Registry
	tabs     *tabs.Projection
	pending  map[int]string // session id -> decision token

	mutSeq        uint64 // bumped on every registry/projection mutation
	lastGen       uint64 // generation of the last applied snapshot
	fetchInFlight bool

	healthFailures int
	lastStatus     *Status

	statsDropped     int64
	statsLastDropLog time.Time

	commands chan command
	fetches  chan fetchResult
}

func New(cfg Config, bc backend.Client, notifier Notifier, capture Capturer, m *metrics.Metrics, log *zap.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = defaultHealthThreshold
	}
	return &Tracker{
		cfg:      cfg,
		backend:  bc,
		notifier: notifier,
		capture:  capture,
		metrics:  m,
		log:      log,
		registry: session.NewRegistry(),
		tabs:     tabs.New(),
		pending:  make(map[int]string),
		commands: make(chan command),
		fetches:  make(chan fetchResult, 1),
	}
}

// SetLoadSampler configures the host load reading attached to status
// publishes. Must be called before Run.
func (t *Tracker) SetLoadSampler(fn func() hostinfo.Load) {
	t.loadFn = fn
}

// SetStatsEvents configures a channel for session lifecycle events. The
// send is non-blocking; a full channel drops the event. Must be called
// before Run.
func (t *Tracker) SetStatsEvents(ch chan<- session.Event) {
	t.statsCh = ch
}

// Run drives the control loop until ctx is cancelled, then tears down:
// every live session is closed via fire-and-forget backend commands and
// local state is cleared unconditionally.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.log.Info("tracker started",
		zap.Duration("poll_interval", t.cfg.PollInterval),
		zap.Bool("interactive", t.cfg.Interactive))

	events := t.backend.Events()

	// Initial poll so the first reconciliation doesn't wait a full tick.
	t.pollTick(ctx)

	for {
		select {
		case <-ctx.Done():
			t.teardown()
			t.log.Info("tracker stopped")
			return
		case <-ticker.C:
			t.pollTick(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			t.ingest(ev)
		case res := <-t.fetches:
			t.fetchInFlight = false
			t.applyFetch(res)
		case cmd := <-t.commands:
			cmd.reply <- t.handleCommand(cmd)
		}
	}
}

// Accept authorizes the pending session id: the positive decision is sent
// to the backend exactly once, the record flips to authorized, and screen
// capture starts unless the session is a file transfer.
func (t *Tracker) Accept(ctx context.Context, id int) error {
	return t.send(ctx, command{kind: cmdAccept, id: id})
}

// Reject denies the pending session id: the negative decision is sent to
// the backend exactly once and the record and its tab are deleted.
func (t *Tracker) Reject(ctx context.Context, id int) error {
	return t.send(ctx, command{kind: cmdReject, id: id})
}

// JumpTo resolves the session id to its current tab position and signals
// the UI to focus it. The index is always looked up fresh.
func (t *Tracker) JumpTo(ctx context.Context, id int) error {
	return t.send(ctx, command{kind: cmdJump, id: id})
}

func (t *Tracker) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case t.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) handleCommand(cmd command) error {
	switch cmd.kind {
	case cmdAccept:
		return t.accept(cmd.id)
	case cmdReject:
		return t.reject(cmd.id)
	case cmdJump:
		return t.jump(cmd.id)
	}
	return nil
}

func (t *Tracker) jump(id int) error {
	index, ok := t.tabs.IndexOf(id)
	if !ok {
		return session.ErrNotFound
	}
	t.notifier.Focus(id, index)
	return nil
}

// teardown closes all current sessions without waiting for acknowledgement
// and clears local state.
func (t *Tracker) teardown() {
	for _, rec := range t.registry.All() {
		id := rec.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := t.backend.CloseSession(ctx, id); err != nil {
				t.log.Warn("close on teardown failed", zap.Int("id", id), zap.Error(err))
			}
		}()
	}
	for id := range t.pending {
		delete(t.pending, id)
		t.notifier.CancelDecision(id)
	}
	t.registry.Replace(nil)
	t.tabs.Replace(nil)
	t.mutSeq++
	t.publish()
}

// publish delivers the current tab list and counts to the notifier and
// refreshes the gauges. Called once at the end of every mutation batch.
func (t *Tracker) publish() {
	counts := Counts{Total: t.registry.Len(), Pending: len(t.pending)}
	for _, rec := range t.registry.All() {
		if !rec.Disconnected {
			counts.Connected++
		}
	}
	t.notifier.PublishSessions(t.tabs.Entries(), counts)
	t.metrics.SessionsActive.Set(float64(counts.Total))
	t.metrics.PendingAuths.Set(float64(counts.Pending))
}

// emitStats sends a lifecycle event to the stats channel if configured.
// Non-blocking; drops are counted and logged at most once per interval.
func (t *Tracker) emitStats(evType session.EventType, state *session.Session) {
	if t.statsCh == nil {
		return
	}
	var snap *session.Session
	if state != nil {
		s := *state
		snap = &s
	}
	select {
	case t.statsCh <- session.Event{Type: evType, State: snap, Total: t.registry.Len()}:
	default:
		t.statsDropped++
		now := time.Now()
		if t.statsLastDropLog.IsZero() || now.Sub(t.statsLastDropLog) >= statsDropLogInterval {
			t.log.Warn("stats events dropped", zap.Int64("count", t.statsDropped))
			t.statsDropped = 0
			t.statsLastDropLog = now
		}
	}
}
