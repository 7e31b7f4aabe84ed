package elevator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lift-robot-bridge/internal/protocol"
)

// statusService builds a service whose monitor subscription is answered with
// the given subtopic frames.
func statusService(t *testing.T, frames []map[string]interface{}) *Service {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if env.CallType == protocol.CallTypeMonitor {
				for _, frame := range frames {
					writeTestFrame(ws, frame)
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	s, _ := newTestService(t, testConfig(), defaultFixture(), nil)
	s.connect = func(ctx context.Context, buildingID, groupID string) (*protocol.Conn, error) {
		return protocol.Dial(ctx, wsURL, "test-token", testLogger())
	}
	return s
}

func TestGetLiftStatusAggregatesFragments(t *testing.T) {
	s := statusService(t, []map[string]interface{}{
		{"subtopic": "lift_7/position", "data": map[string]interface{}{"cur": 4, "dir": "UP", "moving_state": "MOVING"}},
		{"subtopic": "lift_7/doors", "data": map[string]interface{}{"state": "OPENED"}},
		{"subtopic": "lift_7/status", "data": map[string]interface{}{"lift_mode": "FRD"}},
	})

	resp := s.GetLiftStatus(context.Background(), "99", 7)

	assert.Equal(t, CodeSuccess, resp.Errcode)
	assert.Equal(t, 7, resp.LiftNo)
	assert.Equal(t, 4, resp.Floor)
	assert.Equal(t, stateMoving, resp.State)
	assert.Equal(t, directionUp, resp.PrevDirection)
	assert.Equal(t, doorOpen, resp.LiftDoorStatus)
	assert.Equal(t, "FRD", resp.Mode)
}

func TestGetLiftStatusFloorFromArea(t *testing.T) {
	s := statusService(t, []map[string]interface{}{
		{"subtopic": "lift_7/position", "data": map[string]interface{}{"area": 6010, "direction": "DOWN", "moving_state": "STOPPED"}},
		{"subtopic": "lift_7/doors", "data": map[string]interface{}{"landing_doors": []map[string]interface{}{{"state": "CLOSED"}}}},
	})

	resp := s.GetLiftStatus(context.Background(), "99", 7)

	assert.Equal(t, 6, resp.Floor)
	assert.Equal(t, stateStationary, resp.State)
	assert.Equal(t, directionDown, resp.PrevDirection)
	assert.Equal(t, doorClosed, resp.LiftDoorStatus)
}

func TestGetLiftStatusNumericMode(t *testing.T) {
	s := statusService(t, []map[string]interface{}{
		{"subtopic": "lift_7/position", "data": map[string]interface{}{"cur": 1}},
		{"subtopic": "lift_7/status", "data": map[string]interface{}{"lift_mode": 0}},
	})

	resp := s.GetLiftStatus(context.Background(), "99", 7)
	assert.Equal(t, "0", resp.Mode)
}

func TestGetLiftStatusTimeoutDefaults(t *testing.T) {
	s := statusService(t, nil)

	start := time.Now()
	resp := s.GetLiftStatus(context.Background(), "99", 7)

	// The hard timeout finalizes with defaults; the response still succeeds
	assert.Equal(t, CodeSuccess, resp.Errcode)
	assert.Equal(t, 0, resp.Floor)
	assert.Equal(t, "UNKNOWN", resp.Mode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGetLiftStatusConnectFailure(t *testing.T) {
	s, _ := newTestService(t, testConfig(), defaultFixture(), nil)
	s.connect = func(context.Context, string, string) (*protocol.Conn, error) {
		return nil, protocol.ErrConnClosed
	}

	resp := s.GetLiftStatus(context.Background(), "99", 7)
	assert.Equal(t, CodeError, resp.Errcode)
	assert.Equal(t, MsgFailed, resp.Errmsg)
}

func TestMappingTables(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"dir up", mapDirection("UP"), directionUp},
		{"dir down", mapDirection("down"), directionDown},
		{"dir unknown", mapDirection(""), directionNone},
		{"moving", mapMovingState("MOVING"), stateMoving},
		{"decelerating", mapMovingState("DECELERATING"), stateMoving},
		{"standing", mapMovingState("STANDING"), stateStationary},
		{"door opening", mapDoorState("OPENING"), doorOpen},
		{"door closed", mapDoorState("CLOSED"), doorClosed},
		{"door unknown", mapDoorState("JAMMED"), doorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestApplyModeKeepsEarlierDoorState(t *testing.T) {
	resp := &StatusResponse{LiftDoorStatus: doorOpen}
	applyDoors(resp, json.RawMessage(`{"state":"UNRECOGNIZED"}`))
	assert.Equal(t, doorOpen, resp.LiftDoorStatus)

	require.NotPanics(t, func() { applyMode(resp, json.RawMessage(`not json`)) })
}
