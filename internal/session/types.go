package session

import (
	"encoding/json"
	"fmt"
)

// Session is one inbound remote-control connection as reported by the
// backend connection manager. IDs are assigned by the backend, unique among
// live sessions, and stable for the session's lifetime. PeerID identifies
// the remote actor and is stable across reconnect attempts from the same
// peer, which is what peer supersession keys on.
type Session struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	PeerID         string `json:"peer_id"`
	Authorized     bool   `json:"authorized"`
	IsFileTransfer bool   `json:"is_file_transfer"`

	// Capability flags reported by the backend. Stored and displayed,
	// otherwise opaque to this core.
	Keyboard  bool `json:"keyboard"`
	Clipboard bool `json:"clipboard"`
	Audio     bool `json:"audio"`
	File      bool `json:"file"`
	Restart   bool `json:"restart"`
	Recording bool `json:"recording"`

	// Disconnected is set once the backend reports the transport closed
	// without a delete instruction. The record stays addressable by id
	// until an explicit close event removes it.
	Disconnected bool `json:"disconnected"`
}

// Label is the display name used for the session's UI tab.
func (s Session) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.PeerID
}

// Decode parses a serialized session record from an event or snapshot
// payload. A record without a positive id is malformed: id 0 would collide
// with the zero value and the backend never assigns it.
func Decode(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.ID <= 0 {
		return Session{}, fmt.Errorf("decode session: missing or invalid id %d", s.ID)
	}
	return s, nil
}
