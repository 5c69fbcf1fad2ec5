// Package backend defines the interface to the connection manager that owns
// ground truth about inbound remote-control sessions. The tracker consumes
// it two ways: pull (status, count check, snapshot) on its poll tick, and
// push (add/remove events) delivered on the Events channel.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/deskbridge/hostd/internal/session"
)

// Status codes reported by the connection manager. Advisory only; the
// tracker's health classification is driven by query failures, not by the
// code itself.
const (
	StatusOK       = 0
	StatusNotReady = -1
)

// Snapshot is the backend's full ordered view of live sessions. Generation
// increments whenever the backend's session set changes, letting the
// tracker discard fetches that are already stale when they arrive.
type Snapshot struct {
	Generation uint64            `json:"generation"`
	Sessions   []session.Session `json:"sessions"`
}

// EventKind discriminates push events.
type EventKind int

const (
	EventAdd EventKind = iota
	EventRemove
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventRemove:
		return "remove"
	}
	return "unknown"
}

// Event is one push notification from the backend. Payload is decoded
// lazily by the tracker so a malformed event can be dropped without
// touching local state.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage
}

// addPayload is the wire form of an add event.
type addPayload struct {
	Client json.RawMessage `json:"client"`
}

// removePayload is the wire form of a remove event. Both fields arrive
// string-typed and must be parsed.
type removePayload struct {
	ID    string `json:"id"`
	Close string `json:"close"`
}

// DecodeAdd extracts the session record from an add event payload.
func DecodeAdd(payload []byte) (session.Session, error) {
	var p addPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return session.Session{}, fmt.Errorf("decode add event: %w", err)
	}
	if len(p.Client) == 0 {
		return session.Session{}, fmt.Errorf("decode add event: missing client")
	}
	return session.Decode(p.Client)
}

// DecodeRemove extracts the session id and close flag from a remove event
// payload. close=true means delete the record; false means mark it
// disconnected only.
func DecodeRemove(payload []byte) (id int, close bool, err error) {
	var p removePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, false, fmt.Errorf("decode remove event: %w", err)
	}
	id, err = strconv.Atoi(p.ID)
	if err != nil {
		return 0, false, fmt.Errorf("decode remove event: id %q: %w", p.ID, err)
	}
	close, err = strconv.ParseBool(p.Close)
	if err != nil {
		return 0, false, fmt.Errorf("decode remove event: close %q: %w", p.Close, err)
	}
	return id, close, nil
}

// Client is the query/command surface of the connection manager.
//
// SendDecision and CloseSession are fire-and-forget: the backend does not
// acknowledge them, errors are reported only for logging, and the tracker
// never retries.
type Client interface {
	// Status returns the backend's advisory status code.
	Status(ctx context.Context) (int, error)

	// CountMismatch reports whether the backend's live session count
	// disagrees with local.
	CountMismatch(ctx context.Context, local int) (bool, error)

	// Snapshot returns the backend's full ordered session list with its
	// current generation.
	Snapshot(ctx context.Context) (Snapshot, error)

	// SendDecision delivers an authorization verdict for a session.
	SendDecision(ctx context.Context, id int, accept bool) error

	// CloseSession asks the backend to tear down a session.
	CloseSession(ctx context.Context, id int) error

	// Events returns the push event stream. The channel closes when the
	// client is closed for good.
	Events() <-chan Event
}
