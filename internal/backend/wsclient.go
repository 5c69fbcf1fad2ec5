package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/session"
)

const (
	defaultRequestTimeout = 5 * time.Second
	writeTimeout          = 10 * time.Second
	reconnectBaseDelay    = time.Second
	reconnectMaxDelay     = 30 * time.Second
	eventBuffer           = 256
)

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("backend: client closed")

// wire message types exchanged with the connection manager.
const (
	wireRequest  = "request"
	wireResponse = "response"
	wireEvent    = "event"
	wireDecision = "decision"
	wireClose    = "close"
)

type wireMessage struct {
	Type string `json:"type"`

	// request/response correlation
	RID    string `json:"rid,omitempty"`
	Method string `json:"method,omitempty"` // "status" | "count_mismatch" | "snapshot"
	Error  string `json:"error,omitempty"`

	// request arguments and fire-and-forget commands
	Count  int   `json:"count,omitempty"`
	ID     int   `json:"id,omitempty"`
	Accept *bool `json:"accept,omitempty"`

	// response bodies
	Status   *int      `json:"status,omitempty"`
	Mismatch *bool     `json:"mismatch,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	// push events
	Event   string          `json:"event,omitempty"` // "add" | "remove"
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient talks to the connection manager over a JSON WebSocket. Queries
// are correlated by request id; push events arrive on the same connection
// and are routed to the Events channel. The read loop redials with
// exponential backoff until Close or context cancellation.
type WSClient struct {
	url string
	log *zap.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wireMessage
	closed  bool

	events chan Event
	done   chan struct{}
}

// DialWS connects to the connection manager and starts the read loop. The
// context bounds the initial dial only; the loop itself runs until Close.
func DialWS(ctx context.Context, url string, log *zap.Logger) (*WSClient, error) {
	c := &WSClient{
		url:     url,
		log:     log,
		pending: make(map[string]chan wireMessage),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("backend dial %s: %w", url, err)
	}
	c.conn = conn
	go c.readLoop()
	return c, nil
}

// Close tears the connection down and closes the event channel.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(ErrClosed)
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (c *WSClient) Events() <-chan Event {
	return c.events
}

func (c *WSClient) Status(ctx context.Context) (int, error) {
	resp, err := c.request(ctx, wireMessage{Type: wireRequest, Method: "status"})
	if err != nil {
		return StatusNotReady, err
	}
	if resp.Status == nil {
		return StatusNotReady, fmt.Errorf("backend status: empty response")
	}
	return *resp.Status, nil
}

func (c *WSClient) CountMismatch(ctx context.Context, local int) (bool, error) {
	resp, err := c.request(ctx, wireMessage{Type: wireRequest, Method: "count_mismatch", Count: local})
	if err != nil {
		return false, err
	}
	if resp.Mismatch == nil {
		return false, fmt.Errorf("backend count_mismatch: empty response")
	}
	return *resp.Mismatch, nil
}

func (c *WSClient) Snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := c.request(ctx, wireMessage{Type: wireRequest, Method: "snapshot"})
	if err != nil {
		return Snapshot{}, err
	}
	if resp.Snapshot == nil {
		return Snapshot{}, fmt.Errorf("backend snapshot: empty response")
	}
	snap := *resp.Snapshot
	if snap.Sessions == nil {
		snap.Sessions = []session.Session{}
	}
	return snap, nil
}

func (c *WSClient) SendDecision(ctx context.Context, id int, accept bool) error {
	a := accept
	return c.write(wireMessage{Type: wireDecision, ID: id, Accept: &a})
}

func (c *WSClient) CloseSession(ctx context.Context, id int) error {
	return c.write(wireMessage{Type: wireClose, ID: id})
}

// request sends a correlated query and waits for its response.
func (c *WSClient) request(ctx context.Context, msg wireMessage) (wireMessage, error) {
	msg.RID = uuid.NewString()
	ch := make(chan wireMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wireMessage{}, ErrClosed
	}
	c.pending[msg.RID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return wireMessage{}, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return wireMessage{}, fmt.Errorf("backend %s: %s", msg.Method, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return wireMessage{}, ctx.Err()
	case <-c.done:
		return wireMessage{}, ErrClosed
	}
}

func (c *WSClient) write(msg wireMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// readLoop dispatches inbound frames and redials on connection loss.
func (c *WSClient) readLoop() {
	delay := reconnectBaseDelay
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed {
			close(c.events)
			return
		}

		if conn == nil {
			next, _, err := websocket.DefaultDialer.Dial(c.url, nil)
			if err != nil {
				c.log.Warn("backend redial failed",
					zap.String("url", c.url),
					zap.Duration("retry_in", delay),
					zap.Error(err))
				select {
				case <-c.done:
					close(c.events)
					return
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}
			delay = reconnectBaseDelay
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				next.Close()
				close(c.events)
				return
			}
			c.conn = next
			conn = next
			c.mu.Unlock()
			c.log.Info("backend reconnected", zap.String("url", c.url))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			// In-flight requests cannot complete on a dead connection.
			c.failPendingLocked(err)
			closed = c.closed
			c.mu.Unlock()
			conn.Close()
			if closed {
				close(c.events)
				return
			}
			c.log.Warn("backend connection lost", zap.Error(err))
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("backend sent malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *WSClient) dispatch(msg wireMessage) {
	switch msg.Type {
	case wireResponse:
		c.mu.Lock()
		ch, ok := c.pending[msg.RID]
		if ok {
			delete(c.pending, msg.RID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case wireEvent:
		var kind EventKind
		switch msg.Event {
		case "add":
			kind = EventAdd
		case "remove":
			kind = EventRemove
		default:
			c.log.Warn("backend sent unknown event", zap.String("event", msg.Event))
			return
		}
		select {
		case c.events <- Event{Kind: kind, Payload: msg.Payload}:
		default:
			// The tracker has fallen far behind; the periodic resync
			// repairs whatever a dropped event would have changed.
			c.log.Warn("event buffer full, dropping event",
				zap.String("event", msg.Event))
		}
	default:
		c.log.Warn("backend sent unknown frame", zap.String("type", msg.Type))
	}
}

// failPendingLocked resolves every in-flight request with an error
// response. Caller holds c.mu.
func (c *WSClient) failPendingLocked(err error) {
	for rid, ch := range c.pending {
		ch <- wireMessage{Type: wireResponse, RID: rid, Error: err.Error()}
		delete(c.pending, rid)
	}
}
