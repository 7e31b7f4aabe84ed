package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrHeartbeatTimeout indicates the heartbeat never confirmed within the
// configured overall wait. The request using the connection must abort.
var ErrHeartbeatTimeout = errors.New("heartbeat not confirmed before deadline")

// transientCloseCode is tolerated during heartbeat and triggers a retry
const transientCloseCode = 1005

// HeartbeatConfig holds the heartbeat timing parameters
type HeartbeatConfig struct {
	AckTimeout    time.Duration // per-attempt wait for the ping acknowledgment
	EventTimeout  time.Duration // per-attempt wait for the echoed ping event
	RetryInterval time.Duration // pause between attempts after a transient failure
	MaxWait       time.Duration // overall budget before the heartbeat fails
}

// DefaultHeartbeatConfig returns heartbeat timing defaults
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		AckTimeout:    3 * time.Second,
		EventTimeout:  3 * time.Second,
		RetryInterval: 1 * time.Second,
		MaxWait:       15 * time.Second,
	}
}

// EnsureHeartbeat confirms the connection is live before any call, monitor
// subscription or hold_open message is sent on it.
//
// Each attempt sends a ping envelope and requires both the acknowledgment and
// a ping event echoing the same request id, each gated by its own timeout. A
// timeout or a code-1005 communication error retries after RetryInterval;
// any other error is fatal, as is exhausting MaxWait.
func EnsureHeartbeat(ctx context.Context, c *Conn, buildingID, groupID string, cfg HeartbeatConfig, logger *logrus.Entry) error {
	deadline := time.Now().Add(cfg.MaxWait)
	attempt := 0

	for {
		attempt++

		err := heartbeatAttempt(ctx, c, buildingID, groupID, cfg)
		if err == nil {
			logger.WithFields(logrus.Fields{
				"building_id": buildingID,
				"attempts":    attempt,
			}).Debug("Heartbeat confirmed")
			return nil
		}

		if !isTransientHeartbeatError(err) {
			return fmt.Errorf("heartbeat failed: %w", err)
		}

		if time.Now().Add(cfg.RetryInterval).After(deadline) {
			return fmt.Errorf("%w after %d attempts: %v", ErrHeartbeatTimeout, attempt, err)
		}

		logger.WithError(err).WithField("attempt", attempt).Warn("Heartbeat attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return ErrConnClosed
		case <-time.After(cfg.RetryInterval):
		}
	}
}

// heartbeatAttempt sends one ping and awaits its acknowledgment and event.
// Both waiter channels are buffered, so either arrival order is tolerated.
func heartbeatAttempt(ctx context.Context, c *Conn, buildingID, groupID string, cfg HeartbeatConfig) error {
	requestID := NewRequestID()

	ackCh := c.ExpectAck(requestID)
	evCh := c.ExpectEvent(CallTypePing, requestID)

	env := Envelope{
		Type:       TypeCommonAPI,
		BuildingID: buildingID,
		GroupID:    groupID,
		CallType:   CallTypePing,
		Payload: Payload{
			RequestID: requestID,
			Time:      Timestamp(time.Now()),
		},
	}

	if err := c.Send(env); err != nil {
		c.DiscardAck(requestID)
		c.DiscardEvent(CallTypePing, requestID)
		return err
	}

	ack, err := c.AwaitAck(ctx, requestID, ackCh, cfg.AckTimeout)
	if err != nil {
		c.DiscardEvent(CallTypePing, requestID)
		return err
	}
	if !ack.OK() {
		c.DiscardEvent(CallTypePing, requestID)
		return fmt.Errorf("ping rejected with status %d: %w", ack.StatusCode, ackError(ack))
	}

	if _, err := c.AwaitEvent(ctx, CallTypePing, requestID, evCh, cfg.EventTimeout); err != nil {
		return err
	}

	return nil
}

// ackStatusError marks an error acknowledgment so status codes survive wrapping
type ackStatusError struct {
	statusCode int
}

func (e *ackStatusError) Error() string {
	return fmt.Sprintf("acknowledgment error with status %d", e.statusCode)
}

func ackError(ack Ack) error {
	return &ackStatusError{statusCode: ack.StatusCode}
}

// isTransientHeartbeatError classifies failures that warrant a bounded retry:
// any timeout, or a communication error carrying code 1005.
func isTransientHeartbeatError(err error) bool {
	if errors.Is(err, ErrWaitTimeout) {
		return true
	}

	var statusErr *ackStatusError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == transientCloseCode
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == transientCloseCode
	}

	return false
}
