package elevator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lift-robot-bridge/internal/protocol"
)

// Direction codes
const (
	directionNone = 0
	directionUp   = 1
	directionDown = 2
)

// Moving state codes
const (
	stateStationary = 0
	stateMoving     = 1
)

// Door status codes
const (
	doorUnknown = 0
	doorOpen    = 1
	doorClosed  = 2
)

// positionFragment is the streamed lift position event
type positionFragment struct {
	Area        int    `json:"area"`
	Cur         *int   `json:"cur"`
	Dir         string `json:"dir"`
	Direction   string `json:"direction"`
	MovingState string `json:"moving_state"`
}

// doorFragment is the streamed door state event
type doorFragment struct {
	State string `json:"state"`
	LandingDoors []struct {
		State string `json:"state"`
	} `json:"landing_doors"`
}

// modeFragment is the streamed lift status event
type modeFragment struct {
	LiftMode json.RawMessage `json:"lift_mode"`
	Mode     string          `json:"mode"`
}

// GetLiftStatus subscribes to the lift's monitoring subtopics and aggregates
// streamed events into a snapshot. Once a position event and a door or mode
// bearing event have both been seen, a short settle window lets stragglers
// land before finalizing; the hard timeout finalizes with defaults.
func (s *Service) GetLiftStatus(ctx context.Context, placeID string, liftNo int) *StatusResponse {
	buildingID, groupID := ParsePlaceID(placeID)

	resp := &StatusResponse{
		Errcode: CodeSuccess,
		Errmsg:  MsgSuccess,
		LiftNo:  liftNo,
		Floor:   0,
		Mode:    "UNKNOWN",
	}

	conn, err := s.connect(ctx, buildingID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("Stream connection failed")
		return &StatusResponse{Errcode: CodeError, Errmsg: MsgFailed, LiftNo: liftNo, Mode: "UNKNOWN"}
	}
	defer conn.Close()

	subtopics := []string{
		fmt.Sprintf("lift_%d/position", liftNo),
		fmt.Sprintf("lift_%d/doors", liftNo),
		fmt.Sprintf("lift_%d/status", liftNo),
	}

	sub := conn.Subscribe(subtopics...)
	defer sub.Close()

	env := protocol.Envelope{
		Type:       protocol.TypeSiteMonitoring,
		BuildingID: buildingID,
		GroupID:    groupID,
		CallType:   protocol.CallTypeMonitor,
		Payload: protocol.Payload{
			RequestID: protocol.NewRequestID(),
			Time:      protocol.Timestamp(time.Now()),
			Subtopics: subtopics,
		},
	}
	if err := conn.Send(env); err != nil {
		s.logger.WithError(err).Error("Failed to send monitor subscription")
		return &StatusResponse{Errcode: CodeError, Errmsg: MsgFailed, LiftNo: liftNo, Mode: "UNKNOWN"}
	}

	hard := time.NewTimer(time.Duration(s.config.StatusTimeoutMs) * time.Millisecond)
	defer hard.Stop()

	havePosition := false
	haveDoorOrMode := false
	var settleC <-chan time.Time

	for {
		select {
		case ev := <-sub.C():
			switch {
			case strings.HasSuffix(ev.Subtopic, "/position"):
				applyPosition(resp, ev.Data)
				havePosition = true
			case strings.HasSuffix(ev.Subtopic, "/doors"):
				applyDoors(resp, ev.Data)
				haveDoorOrMode = true
			case strings.HasSuffix(ev.Subtopic, "/status"):
				applyMode(resp, ev.Data)
				haveDoorOrMode = true
			}

			if havePosition && haveDoorOrMode && settleC == nil {
				settle := time.NewTimer(time.Duration(s.config.StatusSettleMs) * time.Millisecond)
				defer settle.Stop()
				settleC = settle.C
			}

		case <-settleC:
			return resp

		case <-hard.C:
			return resp

		case <-conn.Done():
			return resp

		case <-ctx.Done():
			return resp
		}
	}
}

func applyPosition(resp *StatusResponse, data json.RawMessage) {
	var frag positionFragment
	if err := json.Unmarshal(data, &frag); err != nil {
		return
	}

	if frag.Cur != nil {
		resp.Floor = *frag.Cur
	} else if frag.Area >= 1000 {
		resp.Floor = frag.Area / 1000
	}

	dir := frag.Dir
	if dir == "" {
		dir = frag.Direction
	}
	resp.PrevDirection = mapDirection(dir)
	resp.State = mapMovingState(frag.MovingState)
}

func applyDoors(resp *StatusResponse, data json.RawMessage) {
	var frag doorFragment
	if err := json.Unmarshal(data, &frag); err != nil {
		return
	}

	state := frag.State
	if state == "" && len(frag.LandingDoors) > 0 {
		state = frag.LandingDoors[0].State
	}
	if mapped := mapDoorState(state); mapped != doorUnknown {
		resp.LiftDoorStatus = mapped
	}
}

func applyMode(resp *StatusResponse, data json.RawMessage) {
	var frag modeFragment
	if err := json.Unmarshal(data, &frag); err != nil {
		return
	}

	if frag.Mode != "" {
		resp.Mode = frag.Mode
		return
	}
	if len(frag.LiftMode) > 0 {
		// The mode is passed through as reported, numeric or string
		resp.Mode = strings.Trim(string(frag.LiftMode), `"`)
	}
}

func mapDirection(dir string) int {
	switch strings.ToUpper(dir) {
	case "UP":
		return directionUp
	case "DOWN":
		return directionDown
	default:
		return directionNone
	}
}

func mapMovingState(state string) int {
	switch strings.ToUpper(state) {
	case "MOVING", "STARTING", "DECELERATING":
		return stateMoving
	case "STOPPED", "STANDING":
		return stateStationary
	default:
		return stateStationary
	}
}

func mapDoorState(state string) int {
	switch strings.ToUpper(state) {
	case "OPENING", "OPENED":
		return doorOpen
	case "CLOSING", "CLOSED":
		return doorClosed
	default:
		return doorUnknown
	}
}
