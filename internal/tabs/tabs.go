// Package tabs maintains the UI-facing ordered tab list derived from the
// session registry. Entries live and die with their registry record; the
// tracker mutates both within one control-loop step so the two never
// diverge. Entries are always addressed by session id, never by a cached
// position: membership and order change under resync, add, and remove, so
// any previously computed index may be stale by the time it is used.
package tabs

import "github.com/deskbridge/hostd/internal/session"

// Entry is one tab in the UI projection.
type Entry struct {
	ID         int    `json:"id"`
	Label      string `json:"label"`
	Authorized bool   `json:"authorized"`
}

// EntryFor builds the projection entry for a session record.
func EntryFor(s session.Session) Entry {
	return Entry{ID: s.ID, Label: s.Label(), Authorized: s.Authorized}
}

// Projection is the ordered tab sequence. Like the registry it is confined
// to the tracker's control loop and is not safe for concurrent use.
type Projection struct {
	entries []Entry
}

func New() *Projection {
	return &Projection{}
}

// Append adds an entry at the end of the tab order.
func (p *Projection) Append(e Entry) {
	p.entries = append(p.entries, e)
}

// RemoveByID deletes the entry for the given session id, preserving the
// order of the remaining entries.
func (p *Projection) RemoveByID(id int) bool {
	for i, e := range p.entries {
		if e.ID == id {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return true
		}
	}
	return false
}

// IndexOf resolves a session id to its current position. The lookup is
// always fresh against current membership.
func (p *Projection) IndexOf(id int) (int, bool) {
	for i, e := range p.entries {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

// SetAuthorized flips the authorized flag mirrored on the entry.
func (p *Projection) SetAuthorized(id int, authorized bool) bool {
	for i := range p.entries {
		if p.entries[i].ID == id {
			p.entries[i].Authorized = authorized
			return true
		}
	}
	return false
}

// Update replaces the entry with the same id in place, preserving its
// position. Used when a redelivered record may carry a new label.
func (p *Projection) Update(e Entry) bool {
	for i := range p.entries {
		if p.entries[i].ID == e.ID {
			p.entries[i] = e
			return true
		}
	}
	return false
}

// Replace rebuilds the whole projection in the order given. Used by resync.
func (p *Projection) Replace(entries []Entry) {
	p.entries = append(p.entries[:0:0], entries...)
}

// Entries returns a copy of the current tab order.
func (p *Projection) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Len returns the number of tabs.
func (p *Projection) Len() int {
	return len(p.entries)
}
