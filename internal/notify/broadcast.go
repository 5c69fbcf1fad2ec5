// Package notify is the UI-facing surface of the daemon: a WebSocket
// broadcaster that pushes tab-list snapshots, authorization dialogs, and
// status changes to connected clients, and an HTTP server that carries
// decisions back into the tracking core.
package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/metrics"
	"github.com/deskbridge/hostd/internal/session"
	"github.com/deskbridge/hostd/internal/tabs"
	"github.com/deskbridge/hostd/internal/tracker"
)

// ErrTooManyConnections is returned by AddClient once the configured
// connection limit is reached.
var ErrTooManyConnections = errors.New("notify: too many connections")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, b *Broadcaster) *client {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

// trySend queues a message without blocking and reports false when the
// client's buffer is full. Send and close are serialized on c.mu, so an
// unregister racing with a broadcast can never close the channel out from
// under a sender.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the socket. A write failure
// unregisters the client so a dead connection never lingers in the map.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// Broadcaster fans tracker publishes out to every connected client. It
// implements tracker.Notifier; all Notifier methods return without
// blocking, so the control loop never waits on a socket. Snapshot
// publishes are throttled with a flush timer; dialog, focus, and status
// messages go out immediately.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool

	redact   Redactor
	throttle time.Duration
	maxConns int // 0 means unlimited
	metrics  *metrics.Metrics
	log      *zap.Logger

	flushMu    sync.Mutex
	latest     []byte // marshalled snapshot message, sent to new clients
	flushDirty bool
	flushTimer *time.Timer

	snapshotTicker *time.Ticker
	done           chan struct{}
	closeOnce      sync.Once
}

// NewBroadcaster starts a broadcaster. throttle bounds how often a
// snapshot burst reaches clients; snapshotInterval re-sends the retained
// snapshot periodically so a client that missed a frame converges anyway.
func NewBroadcaster(redact Redactor, throttle, snapshotInterval time.Duration, maxConns int, m *metrics.Metrics, log *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		redact:   redact,
		throttle: throttle,
		maxConns: maxConns,
		metrics:  m,
		log:      log,
		done:     make(chan struct{}),
	}
	if snapshotInterval > 0 {
		b.snapshotTicker = time.NewTicker(snapshotInterval)
		go b.snapshotLoop()
	}
	return b
}

// PublishSessions retains the snapshot for late joiners and schedules a
// throttled broadcast.
func (b *Broadcaster) PublishSessions(entries []tabs.Entry, counts tracker.Counts) {
	msg := Message{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.redact.entries(entries),
			Counts:   counts,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("snapshot marshal failed", zap.Error(err))
		return
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.latest = data
	b.flushDirty = true
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) RequestDecision(s session.Session) {
	b.broadcast(Message{Type: MsgAuthRequest, Payload: b.redact.authPayload(s)})
}

func (b *Broadcaster) CancelDecision(id int) {
	b.broadcast(Message{Type: MsgAuthCancel, Payload: AuthCancelPayload{ID: id}})
}

func (b *Broadcaster) Focus(id, index int) {
	b.broadcast(Message{Type: MsgFocus, Payload: FocusPayload{ID: id, Index: index}})
}

func (b *Broadcaster) PublishStatus(st tracker.Status) {
	b.broadcast(Message{Type: MsgStatus, Payload: st})
}

// AddClient registers a connection and seeds it with the retained
// snapshot.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b)
	b.clients[c] = true
	count := len(b.clients)
	b.mu.Unlock()
	b.metrics.ClientsGauge.Set(float64(count))

	b.flushMu.Lock()
	latest := b.latest
	b.flushMu.Unlock()
	if latest != nil {
		// Drop on a full buffer, the snapshot loop repairs it
		c.trySend(latest)
	}

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	count := len(b.clients)
	b.mu.Unlock()
	b.metrics.ClientsGauge.Set(float64(count))
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Snapshot returns the last marshalled snapshot message, nil before the
// first publish. The /api/sessions handler serves it.
func (b *Broadcaster) Snapshot() []byte {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.latest
}

// Close stops the periodic snapshot loop and disconnects every client.
// Safe to call more than once.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		if b.done != nil {
			close(b.done)
		}
	})
	if b.snapshotTicker != nil {
		b.snapshotTicker.Stop()
	}
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
	b.metrics.ClientsGauge.Set(0)
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	data := b.latest
	dirty := b.flushDirty
	b.flushDirty = false
	b.flushTimer = nil
	b.flushMu.Unlock()

	if !dirty || data == nil {
		return
	}
	b.send(data)
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.flushMu.Lock()
			data := b.latest
			b.flushMu.Unlock()
			if data != nil {
				b.send(data)
			}
		}
	}
}

func (b *Broadcaster) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}
	b.send(data)
}

func (b *Broadcaster) send(data []byte) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(data) {
			// Client can't keep up, disconnect it
			b.log.Warn("notify client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}
