package session

import "errors"

var (
	// ErrDuplicateID is returned by Insert when a record with the same id
	// is already present. Callers replace records by delete-then-insert.
	ErrDuplicateID = errors.New("session: duplicate id")

	// ErrNotFound is returned when operating on an id that is not present.
	ErrNotFound = errors.New("session: not found")
)

// Registry is the authoritative in-memory table of session records, in
// membership order. It is exclusively owned by the tracker's control loop
// and must only be touched from there; external consumers read published
// snapshots instead, so no locking happens here.
type Registry struct {
	byID  map[int]*Session
	order []int
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*Session)}
}

// Insert adds a new record at the end of the membership order. It fails
// with ErrDuplicateID if the id is already present.
func (r *Registry) Insert(s Session) error {
	if _, ok := r.byID[s.ID]; ok {
		return ErrDuplicateID
	}
	rec := s
	r.byID[s.ID] = &rec
	r.order = append(r.order, s.ID)
	return nil
}

// Remove deletes the record with the given id and returns it.
func (r *Registry) Remove(id int) (Session, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *rec, true
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id int) (Session, bool) {
	rec, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}
	return *rec, true
}

// Update applies mutate to the record with the given id. It fails with
// ErrNotFound if the id is absent; the mutator must not change the id.
func (r *Registry) Update(id int, mutate func(*Session)) error {
	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	mutate(rec)
	rec.ID = id
	return nil
}

// All returns copies of every record in membership order.
func (r *Registry) All() []Session {
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Len returns the number of records present.
func (r *Registry) Len() int {
	return len(r.order)
}

// Replace discards all records and installs snapshot in its order. Later
// duplicates of an id within the snapshot win, keeping ids unique.
func (r *Registry) Replace(snapshot []Session) {
	r.byID = make(map[int]*Session, len(snapshot))
	r.order = r.order[:0]
	for _, s := range snapshot {
		rec := s
		if _, ok := r.byID[s.ID]; !ok {
			r.order = append(r.order, s.ID)
		}
		r.byID[s.ID] = &rec
	}
}

// FindDisconnected returns the oldest disconnected record with the given
// peer id, if any. Used for peer supersession when a fresh connection from
// the same peer arrives.
func (r *Registry) FindDisconnected(peerID string) (Session, bool) {
	for _, id := range r.order {
		rec := r.byID[id]
		if rec.Disconnected && rec.PeerID == peerID {
			return *rec, true
		}
	}
	return Session{}, false
}
