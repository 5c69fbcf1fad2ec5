package backend

import (
	"context"
	"testing"

	"github.com/deskbridge/hostd/internal/session"
)

func TestDecodeAdd(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantID   int
		wantPeer string
		wantErr  bool
	}{
		{
			name:     "valid",
			payload:  `{"client":{"id":12,"name":"laptop","peer_id":"p12","authorized":false}}`,
			wantID:   12,
			wantPeer: "p12",
		},
		{name: "missing client", payload: `{}`, wantErr: true},
		{name: "malformed json", payload: `{"client":`, wantErr: true},
		{name: "client without id", payload: `{"client":{"peer_id":"p1"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeAdd([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeAdd(%q) succeeded, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeAdd(%q) returned error: %v", tt.payload, err)
			}
			if s.ID != tt.wantID || s.PeerID != tt.wantPeer {
				t.Errorf("DecodeAdd = %+v, want id=%d peer=%s", s, tt.wantID, tt.wantPeer)
			}
		})
	}
}

func TestDecodeRemove(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantID    int
		wantClose bool
		wantErr   bool
	}{
		{name: "close true", payload: `{"id":"4","close":"true"}`, wantID: 4, wantClose: true},
		{name: "close false", payload: `{"id":"17","close":"false"}`, wantID: 17},
		{name: "non-numeric id", payload: `{"id":"four","close":"true"}`, wantErr: true},
		{name: "bad close", payload: `{"id":"4","close":"maybe"}`, wantErr: true},
		{name: "missing fields", payload: `{}`, wantErr: true},
		{name: "malformed json", payload: `{"id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, closeFlag, err := DecodeRemove([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeRemove(%q) succeeded, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRemove(%q) returned error: %v", tt.payload, err)
			}
			if id != tt.wantID || closeFlag != tt.wantClose {
				t.Errorf("DecodeRemove = (%d, %v), want (%d, %v)", id, closeFlag, tt.wantID, tt.wantClose)
			}
		})
	}
}

func TestMockAddEmitsDecodableEvent(t *testing.T) {
	m := NewMock()
	added := m.AddSession(session.Session{Name: "laptop", PeerID: "p1", Keyboard: true})

	var ev Event
	select {
	case ev = <-m.Events():
	default:
		t.Fatal("AddSession emitted no event")
	}
	if ev.Kind != EventAdd {
		t.Fatalf("event kind = %v, want add", ev.Kind)
	}

	s, err := DecodeAdd(ev.Payload)
	if err != nil {
		t.Fatalf("emitted add payload does not decode: %v", err)
	}
	if s.ID != added.ID || s.PeerID != "p1" || !s.Keyboard {
		t.Errorf("decoded %+v, want the added session", s)
	}
}

func TestMockRemoveEmitsStringTypedPayload(t *testing.T) {
	m := NewMock()
	added := m.AddSession(session.Session{PeerID: "p1"})
	<-m.Events()

	m.RemoveSession(added.ID, true)
	ev := <-m.Events()
	if ev.Kind != EventRemove {
		t.Fatalf("event kind = %v, want remove", ev.Kind)
	}
	id, closeFlag, err := DecodeRemove(ev.Payload)
	if err != nil {
		t.Fatalf("emitted remove payload does not decode: %v", err)
	}
	if id != added.ID || !closeFlag {
		t.Errorf("DecodeRemove = (%d, %v), want (%d, true)", id, closeFlag, added.ID)
	}

	if len(m.Sessions()) != 0 {
		t.Error("close=true remove left the session in ground truth")
	}
}

func TestMockSoftRemoveKeepsGroundTruth(t *testing.T) {
	m := NewMock()
	added := m.AddSession(session.Session{PeerID: "p1"})
	<-m.Events()

	m.RemoveSession(added.ID, false)
	<-m.Events()

	got := m.Sessions()
	if len(got) != 1 || !got[0].Disconnected {
		t.Errorf("soft remove ground truth = %+v, want one disconnected record", got)
	}
}

func TestMockCountMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	m.AddSilently(session.Session{PeerID: "p1"})

	mismatch, err := m.CountMismatch(ctx, 0)
	if err != nil || !mismatch {
		t.Errorf("CountMismatch(0) = (%v, %v), want (true, nil)", mismatch, err)
	}
	mismatch, err = m.CountMismatch(ctx, 1)
	if err != nil || mismatch {
		t.Errorf("CountMismatch(1) = (%v, %v), want (false, nil)", mismatch, err)
	}
}

func TestMockSnapshotGenerationAdvances(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	first, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	m.AddSilently(session.Session{PeerID: "p1"})
	second, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	if second.Generation <= first.Generation {
		t.Errorf("generation did not advance: %d -> %d", first.Generation, second.Generation)
	}
	if len(second.Sessions) != 1 {
		t.Errorf("snapshot has %d sessions, want 1", len(second.Sessions))
	}
}

func TestMockRecordsCommands(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	s := m.AddSilently(session.Session{PeerID: "p1"})

	m.SendDecision(ctx, s.ID, true)
	m.SendDecision(ctx, s.ID, false)
	m.CloseSession(ctx, s.ID)

	decisions := m.Decisions()
	if len(decisions) != 2 || !decisions[0].Accept || decisions[1].Accept {
		t.Errorf("Decisions() = %+v, want [accept reject]", decisions)
	}
	closes := m.Closes()
	if len(closes) != 1 || closes[0] != s.ID {
		t.Errorf("Closes() = %v, want [%d]", closes, s.ID)
	}
}
