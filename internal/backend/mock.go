package backend

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/deskbridge/hostd/internal/session"
)

// Mock is an in-memory connection manager. It owns a fake ground-truth
// session set, answers the query interface from it, emits push events, and
// records every decision and close command it receives. It backs the
// -mock flag and the tracker tests.
type Mock struct {
	mu         sync.Mutex
	sessions   []session.Session
	generation uint64
	status     int

	// knobs for failure injection
	statusErr   error
	countErr    error
	snapshotErr error

	// mismatch forces the next CountMismatch answers regardless of the
	// actual counts when set.
	forceMismatch *bool

	decisions []Decision
	closes    []int

	events chan Event
	nextID int
}

// Decision records one SendDecision call.
type Decision struct {
	ID     int
	Accept bool
}

func NewMock() *Mock {
	return &Mock{
		status: StatusOK,
		events: make(chan Event, eventBuffer),
		nextID: 1,
	}
}

func (m *Mock) Events() <-chan Event {
	return m.events
}

func (m *Mock) Status(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return StatusNotReady, m.statusErr
	}
	return m.status, nil
}

func (m *Mock) CountMismatch(ctx context.Context, local int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return false, m.countErr
	}
	if m.forceMismatch != nil {
		return *m.forceMismatch, nil
	}
	return local != len(m.sessions), nil
}

func (m *Mock) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return Snapshot{}, m.snapshotErr
	}
	return Snapshot{
		Generation: m.generation,
		Sessions:   append([]session.Session(nil), m.sessions...),
	}, nil
}

func (m *Mock) SendDecision(ctx context.Context, id int, accept bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, Decision{ID: id, Accept: accept})
	if accept {
		for i := range m.sessions {
			if m.sessions[i].ID == id {
				m.sessions[i].Authorized = true
				m.generation++
				break
			}
		}
	} else {
		m.dropLocked(id)
	}
	return nil
}

func (m *Mock) CloseSession(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes = append(m.closes, id)
	m.dropLocked(id)
	return nil
}

// --- ground-truth manipulation (tests and mock mode) ---

// AddSession appends s to ground truth and emits the corresponding add
// event. A zero id is assigned the next free one; the assigned record is
// returned.
func (m *Mock) AddSession(s session.Session) session.Session {
	m.mu.Lock()
	if s.ID == 0 {
		s.ID = m.nextID
	}
	if s.ID >= m.nextID {
		m.nextID = s.ID + 1
	}
	m.sessions = append(m.sessions, s)
	m.generation++
	m.mu.Unlock()

	m.emit(Event{Kind: EventAdd, Payload: mustAddPayload(s)})
	return s
}

// AddSilently appends to ground truth without emitting an event, creating
// the count drift that forces the tracker into a resync.
func (m *Mock) AddSilently(s session.Session) session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID
	}
	if s.ID >= m.nextID {
		m.nextID = s.ID + 1
	}
	m.sessions = append(m.sessions, s)
	m.generation++
	return s
}

// RemoveSession emits a remove event for id. With close=true the record
// leaves ground truth; otherwise it is marked disconnected and stays.
func (m *Mock) RemoveSession(id int, close bool) {
	m.mu.Lock()
	if close {
		m.dropLocked(id)
	} else {
		for i := range m.sessions {
			if m.sessions[i].ID == id {
				m.sessions[i].Disconnected = true
				m.generation++
				break
			}
		}
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventRemove, Payload: []byte(fmt.Sprintf(
		`{"id":%q,"close":%q}`, strconv.Itoa(id), strconv.FormatBool(close)))})
}

// EmitRaw injects an arbitrary event, malformed payloads included.
func (m *Mock) EmitRaw(kind EventKind, payload []byte) {
	m.emit(Event{Kind: kind, Payload: payload})
}

// SetStatus changes the advisory status code.
func (m *Mock) SetStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = code
}

// FailStatus makes Status return err until called with nil.
func (m *Mock) FailStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// FailSnapshot makes Snapshot return err until called with nil.
func (m *Mock) FailSnapshot(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotErr = err
}

// ForceMismatch pins the CountMismatch answer. Pass nil to restore
// count-derived answers.
func (m *Mock) ForceMismatch(v *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceMismatch = v
}

// Decisions returns every recorded SendDecision call in order.
func (m *Mock) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Decision(nil), m.decisions...)
}

// Closes returns the ids of every recorded CloseSession call in order.
func (m *Mock) Closes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.closes...)
}

// Sessions returns the current ground truth.
func (m *Mock) Sessions() []session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Session(nil), m.sessions...)
}

func (m *Mock) dropLocked(id int) {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			m.generation++
			return
		}
	}
}

func (m *Mock) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

func mustAddPayload(s session.Session) []byte {
	name := s.Name
	if name == "" {
		name = s.PeerID
	}
	return []byte(fmt.Sprintf(
		`{"client":{"id":%d,"name":%q,"peer_id":%q,"authorized":%t,"is_file_transfer":%t,"keyboard":%t,"clipboard":%t,"audio":%t,"file":%t,"restart":%t,"recording":%t,"disconnected":%t}}`,
		s.ID, name, s.PeerID, s.Authorized, s.IsFileTransfer,
		s.Keyboard, s.Clipboard, s.Audio, s.File, s.Restart, s.Recording,
		s.Disconnected))
}

var mockPeers = []struct {
	name string
	peer string
}{
	{"laptop-annika", "236712836"},
	{"workstation-jun", "881002456"},
	{"support-desk", "109934008"},
	{"file-drop", "445120993"},
}

// Run generates scripted connection traffic for -mock mode: every few
// seconds a fake peer connects, lingers, and disconnects, with the
// occasional silent drop to exercise the resync path.
func (m *Mock) Run(ctx context.Context) {
	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := mockPeers[rand.Intn(len(mockPeers))]
			s := m.AddSession(session.Session{
				Name:           p.name,
				PeerID:         p.peer,
				IsFileTransfer: rand.Intn(4) == 0,
				Keyboard:       true,
				Clipboard:      rand.Intn(2) == 0,
			})

			go func(id int) {
				lifetime := time.Duration(5+rand.Intn(15)) * time.Second
				select {
				case <-ctx.Done():
					return
				case <-time.After(lifetime):
				}
				// One in five sessions vanishes without an event so the
				// poller's count check has something to repair.
				if rand.Intn(5) == 0 {
					m.mu.Lock()
					m.dropLocked(id)
					m.mu.Unlock()
					return
				}
				m.RemoveSession(id, rand.Intn(2) == 0)
			}(s.ID)
		}
	}
}
