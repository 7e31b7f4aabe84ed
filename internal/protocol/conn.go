package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrWaitTimeout indicates a correlated reply did not arrive in time
var ErrWaitTimeout = errors.New("timed out waiting for reply")

// ErrConnClosed indicates the connection closed while a waiter was pending
var ErrConnClosed = errors.New("connection closed")

const writeTimeout = 10 * time.Second

// Conn is a stream connection to the elevator cloud. A single read loop
// demultiplexes inbound frames to pending waiters keyed by request id and to
// subtopic subscriptions; each waiter is resolved at most once and removed.
type Conn struct {
	ws     *websocket.Conn
	logger *logrus.Entry

	writeMu sync.Mutex

	mu           sync.Mutex
	ackWaiters   map[int]chan Ack
	eventWaiters map[string]chan Event
	subs         map[int]*Subscription
	nextSubID    int

	closeOnce sync.Once
	done      chan struct{}
}

// Subscription is a stream of events matching a set of subtopic or callType
// prefixes. Close it to stop receiving.
type Subscription struct {
	id       int
	prefixes []string
	ch       chan Event
	conn     *Conn
}

// C returns the subscription's event channel
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close removes the subscription from the connection's dispatch table
func (s *Subscription) Close() {
	s.conn.mu.Lock()
	delete(s.conn.subs, s.id)
	s.conn.mu.Unlock()
}

// Dial opens a stream connection authenticated with the given access token
// and starts the dispatch loop.
func Dial(ctx context.Context, endpoint, accessToken string, logger *logrus.Entry) (*Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid stream endpoint: %w", err)
	}
	q := u.Query()
	q.Set("accessToken", accessToken)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream connection: %w", err)
	}

	c := &Conn{
		ws:           ws,
		logger:       logger,
		ackWaiters:   make(map[int]chan Ack),
		eventWaiters: make(map[string]chan Event),
		subs:         make(map[int]*Subscription),
		done:         make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// newConn wraps an already-open websocket, for tests
func newConn(ws *websocket.Conn, logger *logrus.Entry) *Conn {
	c := &Conn{
		ws:           ws,
		logger:       logger,
		ackWaiters:   make(map[int]chan Ack),
		eventWaiters: make(map[string]chan Event),
		subs:         make(map[int]*Subscription),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send writes an envelope to the connection
func (c *Conn) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"call_type":  env.CallType,
		"request_id": env.Payload.RequestID,
	}).Debug("Envelope sent")

	return nil
}

// Close closes the connection and fails all pending waiters
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Done is closed when the connection is no longer usable
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ExpectAck registers a waiter for the acknowledgment of a request id.
// Register before sending so an early reply is never lost.
func (c *Conn) ExpectAck(requestID int) <-chan Ack {
	ch := make(chan Ack, 1)
	c.mu.Lock()
	c.ackWaiters[requestID] = ch
	c.mu.Unlock()
	return ch
}

// DiscardAck removes a pending ack waiter
func (c *Conn) DiscardAck(requestID int) {
	c.mu.Lock()
	delete(c.ackWaiters, requestID)
	c.mu.Unlock()
}

// ExpectEvent registers a waiter for a domain event with a matching callType
// and echoed request id.
func (c *Conn) ExpectEvent(callType string, requestID int) <-chan Event {
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.eventWaiters[eventKey(callType, requestID)] = ch
	c.mu.Unlock()
	return ch
}

// DiscardEvent removes a pending event waiter
func (c *Conn) DiscardEvent(callType string, requestID int) {
	c.mu.Lock()
	delete(c.eventWaiters, eventKey(callType, requestID))
	c.mu.Unlock()
}

// Subscribe returns a subscription delivering events whose subtopic or
// callType starts with one of the given prefixes.
func (c *Conn) Subscribe(prefixes ...string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	sub := &Subscription{
		id:       c.nextSubID,
		prefixes: prefixes,
		ch:       make(chan Event, 16),
		conn:     c,
	}
	c.subs[sub.id] = sub
	return sub
}

// AwaitAck waits for an acknowledgment previously registered with ExpectAck
func (c *Conn) AwaitAck(ctx context.Context, requestID int, ch <-chan Ack, timeout time.Duration) (Ack, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		c.DiscardAck(requestID)
		return Ack{}, ErrWaitTimeout
	case <-c.done:
		c.DiscardAck(requestID)
		return Ack{}, ErrConnClosed
	case <-ctx.Done():
		c.DiscardAck(requestID)
		return Ack{}, ctx.Err()
	}
}

// AwaitEvent waits for a domain event previously registered with ExpectEvent
func (c *Conn) AwaitEvent(ctx context.Context, callType string, requestID int, ch <-chan Event, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		c.DiscardEvent(callType, requestID)
		return Event{}, ErrWaitTimeout
	case <-c.done:
		c.DiscardEvent(callType, requestID)
		return Event{}, ErrConnClosed
	case <-ctx.Done():
		c.DiscardEvent(callType, requestID)
		return Event{}, ctx.Err()
	}
}

// readLoop reads inbound frames and routes them by request id, callType and
// subtopic. Arrival order across requests sharing the connection is
// irrelevant to dispatch.
func (c *Conn) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.WithError(err).Debug("Stream connection read failed")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.WithError(err).Warn("Discarding unparseable frame")
			continue
		}

		c.dispatch(f)
	}
}

// dispatch resolves at most one waiter for an ack and fans events out to
// waiters and subscriptions.
func (c *Conn) dispatch(f frame) {
	if f.Type == "ok" || f.Type == "error" {
		ack := Ack{Type: f.Type, RequestID: f.RequestID, StatusCode: f.StatusCode}

		c.mu.Lock()
		ch, ok := c.ackWaiters[ack.RequestID]
		if ok {
			delete(c.ackWaiters, ack.RequestID)
		}
		c.mu.Unlock()

		if ok {
			ch <- ack
		} else {
			c.logger.WithField("request_id", ack.RequestID).Debug("Acknowledgment with no waiter")
		}
		return
	}

	ev := Event{CallType: f.CallType, Subtopic: f.Subtopic, Data: f.Data}

	if ev.CallType != "" {
		key := eventKey(ev.CallType, ev.RequestID())

		c.mu.Lock()
		ch, ok := c.eventWaiters[key]
		if ok {
			delete(c.eventWaiters, key)
		}
		c.mu.Unlock()

		if ok {
			ch <- ev
		}
	}

	c.mu.Lock()
	for _, sub := range c.subs {
		if sub.matches(ev) {
			select {
			case sub.ch <- ev:
			default:
				c.logger.WithField("subtopic", ev.Subtopic).Warn("Subscription buffer full, dropping event")
			}
		}
	}
	c.mu.Unlock()
}

func (s *Subscription) matches(ev Event) bool {
	for _, prefix := range s.prefixes {
		if ev.Subtopic != "" && strings.HasPrefix(ev.Subtopic, prefix) {
			return true
		}
		if ev.CallType != "" && strings.HasPrefix(ev.CallType, prefix) {
			return true
		}
	}
	return false
}

func eventKey(callType string, requestID int) string {
	return fmt.Sprintf("%s/%d", callType, requestID)
}
