package notify

import (
	"crypto/sha256"
	"fmt"

	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tabs"
	"github.com/deskbridge/hostd/internal/tracker"
)

type MessageType string

const (
	MsgSnapshot    MessageType = "snapshot"
	MsgAuthRequest MessageType = "auth_request"
	MsgAuthCancel  MessageType = "auth_cancel"
	MsgFocus       MessageType = "focus"
	MsgStatus      MessageType = "status"
	MsgError       MessageType = "error"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []tabs.Entry   `json:"sessions"`
	Counts   tracker.Counts `json:"counts"`
}

type AuthRequestPayload struct {
	ID             int    `json:"id"`
	Label          string `json:"label"`
	PeerID         string `json:"peer_id"`
	IsFileTransfer bool   `json:"is_file_transfer"`
}

type AuthCancelPayload struct {
	ID int `json:"id"`
}

type FocusPayload struct {
	ID    int `json:"id"`
	Index int `json:"index"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientCommand is the inbound message shape: a decision or a jump request
// sent by a connected UI over the socket.
type ClientCommand struct {
	Action string `json:"action"` // accept, reject, focus
	ID     int    `json:"id"`
}

// Redactor masks peer identifiers before they leave the daemon. The zero
// value passes everything through untouched.
type Redactor struct {
	MaskPeerIDs bool
}

// authPayload builds the dialog payload for a session, masked according to
// the redactor.
func (r Redactor) authPayload(s session.Session) AuthRequestPayload {
	p := AuthRequestPayload{
		ID:             s.ID,
		Label:          s.Label(),
		PeerID:         s.PeerID,
		IsFileTransfer: s.IsFileTransfer,
	}
	if r.MaskPeerIDs {
		p.PeerID = shortHash(s.PeerID)
		if s.Name == "" {
			p.Label = p.PeerID
		}
	}
	return p
}

// entries masks tab labels. A label may be the raw peer id when the peer
// sent no display name, so with masking on every label is hashed.
func (r Redactor) entries(sessions []tabs.Entry) []tabs.Entry {
	if !r.MaskPeerIDs {
		return sessions
	}
	out := make([]tabs.Entry, len(sessions))
	for i, e := range sessions {
		out[i] = e
		out[i].Label = shortHash(e.Label)
	}
	return out
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
