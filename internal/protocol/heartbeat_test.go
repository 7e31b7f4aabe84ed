package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		AckTimeout:    200 * time.Millisecond,
		EventTimeout:  200 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		MaxWait:       time.Second,
	}
}

// answerPing acknowledges a ping envelope and echoes its request id
func answerPing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	env := readEnvelope(t, ws)
	require.Equal(t, CallTypePing, env.CallType)

	writeFrame(ws, map[string]interface{}{
		"type": "ok", "requestId": env.Payload.RequestID, "statusCode": 201,
	})
	writeFrame(ws, map[string]interface{}{
		"callType": CallTypePing,
		"data":     map[string]interface{}{"request_id": env.Payload.RequestID},
	})
}

func TestEnsureHeartbeatConfirms(t *testing.T) {
	conn := startTestStream(t, func(ws *websocket.Conn) {
		answerPing(t, ws)
		ws.ReadMessage()
	})

	err := EnsureHeartbeat(context.Background(), conn, "building:99", "1", fastHeartbeatConfig(), testLogger())
	assert.NoError(t, err)
}

func TestEnsureHeartbeatToleratesEventBeforeAck(t *testing.T) {
	conn := startTestStream(t, func(ws *websocket.Conn) {
		env := readEnvelope(t, ws)
		writeFrame(ws, map[string]interface{}{
			"callType": CallTypePing,
			"data":     map[string]interface{}{"request_id": env.Payload.RequestID},
		})
		writeFrame(ws, map[string]interface{}{
			"type": "ok", "requestId": env.Payload.RequestID,
		})
		ws.ReadMessage()
	})

	err := EnsureHeartbeat(context.Background(), conn, "building:99", "1", fastHeartbeatConfig(), testLogger())
	assert.NoError(t, err)
}

func TestEnsureHeartbeatRetriesTransientError(t *testing.T) {
	conn := startTestStream(t, func(ws *websocket.Conn) {
		// First attempt rejected with the transient code
		env := readEnvelope(t, ws)
		writeFrame(ws, map[string]interface{}{
			"type": "error", "requestId": env.Payload.RequestID, "statusCode": 1005,
		})

		answerPing(t, ws)
		ws.ReadMessage()
	})

	err := EnsureHeartbeat(context.Background(), conn, "building:99", "1", fastHeartbeatConfig(), testLogger())
	assert.NoError(t, err)
}

func TestEnsureHeartbeatFatalOnOtherStatus(t *testing.T) {
	conn := startTestStream(t, func(ws *websocket.Conn) {
		env := readEnvelope(t, ws)
		writeFrame(ws, map[string]interface{}{
			"type": "error", "requestId": env.Payload.RequestID, "statusCode": 401,
		})
		ws.ReadMessage()
	})

	err := EnsureHeartbeat(context.Background(), conn, "building:99", "1", fastHeartbeatConfig(), testLogger())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHeartbeatTimeout)
}

func TestEnsureHeartbeatGivesUpAfterMaxWait(t *testing.T) {
	conn := startTestStream(t, func(ws *websocket.Conn) {
		// Never answer; every attempt times out
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := HeartbeatConfig{
		AckTimeout:    50 * time.Millisecond,
		EventTimeout:  50 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		MaxWait:       200 * time.Millisecond,
	}

	start := time.Now()
	err := EnsureHeartbeat(context.Background(), conn, "building:99", "1", cfg, testLogger())

	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIsTransientHeartbeatError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"wait timeout", ErrWaitTimeout, true},
		{"transient ack status", ackError(Ack{StatusCode: 1005}), true},
		{"other ack status", ackError(Ack{StatusCode: 401}), false},
		{"transient close code", &websocket.CloseError{Code: 1005}, true},
		{"normal close code", &websocket.CloseError{Code: 1000}, false},
		{"conn closed", ErrConnClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransientHeartbeatError(tt.err))
		})
	}
}
