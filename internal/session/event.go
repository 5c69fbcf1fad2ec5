package session

// EventType classifies session lifecycle events published by the tracker.
type EventType int

const (
	EventAdded      EventType = iota // new record inserted
	EventRemoved                     // record deleted (close event or teardown)
	EventAccepted                    // authorization accepted
	EventRejected                    // authorization rejected
	EventSuperseded                  // old disconnected record replaced by a new peer connection
	EventResync                      // full snapshot replace applied
)

// Event carries a session state snapshot to observers such as the stats
// tracker. State is nil for EventResync.
type Event struct {
	Type  EventType
	State *Session // snapshot, safe to retain
	Total int      // records present after the event
}
