package elevator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lift-robot-bridge/internal/config"
	"lift-robot-bridge/internal/governor"
	"lift-robot-bridge/internal/protocol"
	"lift-robot-bridge/internal/topology"
)

// ErrLiftUnavailable indicates the pre-call mode check failed or timed out;
// no action is sent in that case.
var ErrLiftUnavailable = errors.New("lift not operational")

// TokenSource provides access tokens scoped to a building and group
type TokenSource interface {
	AccessToken(ctx context.Context, buildingID, groupID string) (string, error)
}

// BindingAuthority answers which lifts a device may use
type BindingAuthority interface {
	BoundLifts(ctx context.Context, deviceUUID string) ([]int, error)
	IsBound(ctx context.Context, deviceUUID string, liftNo int) (bool, error)
}

// ConnectFunc opens a stream connection for a building group and confirms
// its heartbeat
type ConnectFunc func(ctx context.Context, buildingID, groupID string) (*protocol.Conn, error)

// Service implements the robot-facing elevator operations over the vendor's
// real-time protocol.
type Service struct {
	config   *config.Config
	logger   *logrus.Entry
	topo     *topology.Cache
	governor *governor.Governor
	bindings BindingAuthority
	holds    *HoldScheduler
	connect  ConnectFunc
}

// NewService creates the elevator service. The bindings authority may be nil
// when no binding store is configured.
func NewService(cfg *config.Config, logger *logrus.Entry, tokens TokenSource, topo *topology.Cache, gov *governor.Governor, bindings BindingAuthority) *Service {
	s := &Service{
		config:   cfg,
		logger:   logger,
		topo:     topo,
		governor: gov,
		bindings: bindings,
	}

	s.connect = func(ctx context.Context, buildingID, groupID string) (*protocol.Conn, error) {
		token, err := tokens.AccessToken(ctx, buildingID, groupID)
		if err != nil {
			return nil, err
		}

		conn, err := protocol.Dial(ctx, cfg.WSEndpoint, token, logger)
		if err != nil {
			return nil, err
		}

		hbCfg := protocol.HeartbeatConfig{
			AckTimeout:    time.Duration(cfg.HeartbeatAckTimeoutMs) * time.Millisecond,
			EventTimeout:  time.Duration(cfg.HeartbeatEventTimeoutMs) * time.Millisecond,
			RetryInterval: time.Duration(cfg.HeartbeatRetryMs) * time.Millisecond,
			MaxWait:       time.Duration(cfg.HeartbeatMaxWaitMs) * time.Millisecond,
		}
		if err := protocol.EnsureHeartbeat(ctx, conn, buildingID, groupID, hbCfg, logger); err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	}

	s.holds = NewHoldScheduler(HoldConfig{
		MaxHardSec:      cfg.HoldMaxHardSec,
		SoftSec:         cfg.HoldSoftSec,
		Interval:        time.Duration(cfg.HoldIntervalMs) * time.Millisecond,
		ReleaseOnExpire: cfg.HoldReleaseOnExpire,
		AckTimeout:      time.Duration(cfg.CallAckTimeoutMs) * time.Millisecond,
	}, s.connect, logger)

	return s
}

// CallRequest is an inbound elevator call
type CallRequest struct {
	DeviceUUID string
	PlaceID    string
	LiftNo     int
	FromFloor  int
	ToFloor    int
}

// actionEventData is the domain event confirming a destination call
type actionEventData struct {
	Success      bool   `json:"success"`
	SessionID    int    `json:"session_id"`
	ConnectionID string `json:"connection_id"`
}

// CallElevator runs the full call flow. It always returns a structured
// response; each step short-circuits on failure.
func (s *Service) CallElevator(ctx context.Context, req CallRequest) *CallResponse {
	buildingID, groupID := ParsePlaceID(req.PlaceID)

	key := governor.JourneyKey{
		DeviceUUID: req.DeviceUUID,
		BuildingID: buildingID,
		GroupID:    groupID,
		FromFloor:  req.FromFloor,
		ToFloor:    req.ToFloor,
	}

	cached, err := s.governor.Admit(ctx, key)
	if err != nil {
		if errors.Is(err, governor.ErrRateLimited) {
			return failResponse(MsgRateLimited)
		}
		s.logger.WithError(err).Error("Call admission failed")
		return failResponse(MsgFailed)
	}
	if cached != nil {
		var resp CallResponse
		if err := json.Unmarshal(cached, &resp); err != nil {
			s.logger.WithError(err).Error("Cached call response is unreadable")
			return failResponse(MsgFailed)
		}
		return &resp
	}

	topo, err := s.topo.Topology(ctx, buildingID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("Topology lookup failed")
		return failResponse(MsgFailed)
	}
	mapping, err := s.topo.Mapping(ctx, buildingID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("Floor mapping lookup failed")
		return failResponse(MsgFailed)
	}

	conn, err := s.connect(ctx, buildingID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("Stream connection failed")
		return failResponse(MsgFailed)
	}
	defer conn.Close()

	group := topo.GroupByID(groupID)

	// Constrain the terminal to one valid for both floors of the journey
	candidates := topology.IntersectTerminals(
		mapping.TerminalsForFloor(req.FromFloor),
		mapping.TerminalsForFloor(req.ToFloor),
	)
	if len(candidates) == 0 {
		candidates = mapping.GroupTerminals
	}
	terminal := topology.PickTerminalID(group, mapping.GroupTerminals,
		s.config.PreferredTerminalTypes, candidates, s.terminalOverrides(), s.config.DefaultTerminalID)

	fromArea := mapping.ResolveAreaID(groupID, req.FromFloor, terminal)
	toArea := mapping.ResolveAreaID(groupID, req.ToFloor, terminal)

	if err := s.checkAvailability(ctx, conn, buildingID, groupID, req.LiftNo); err != nil {
		if errors.Is(err, ErrLiftUnavailable) {
			s.logger.WithField("lift_no", req.LiftNo).Warn("Lift unavailable, call aborted")
			return failResponse(MsgLiftUnavailable)
		}
		s.logger.WithError(err).Error("Availability check failed")
		return failResponse(MsgFailed)
	}

	allowedLifts := s.allowedLiftsFor(group, req.LiftNo)

	requestID := protocol.NewRequestID()
	ackCh := conn.ExpectAck(requestID)
	evCh := conn.ExpectEvent(protocol.CallTypeAction, requestID)

	env := protocol.Envelope{
		Type:       protocol.TypeLiftCall,
		BuildingID: buildingID,
		GroupID:    groupID,
		CallType:   protocol.CallTypeAction,
		Payload: protocol.Payload{
			RequestID: requestID,
			Time:      protocol.Timestamp(time.Now()),
			Terminal:  terminal,
			Area:      fromArea,
			Call: &protocol.Call{
				Action:       protocol.ActionDestinationCall,
				Destination:  toArea,
				AllowedLifts: allowedLifts,
			},
		},
	}

	if err := conn.Send(env); err != nil {
		conn.DiscardAck(requestID)
		conn.DiscardEvent(protocol.CallTypeAction, requestID)
		s.logger.WithError(err).Error("Failed to send call action")
		return failResponse(MsgFailed)
	}

	// The ack and the action event may arrive in either order; both waiter
	// channels are buffered, and a failed ack short-circuits without
	// waiting for the event.
	ack, err := conn.AwaitAck(ctx, requestID, ackCh, time.Duration(s.config.CallAckTimeoutMs)*time.Millisecond)
	if err != nil {
		conn.DiscardEvent(protocol.CallTypeAction, requestID)
		s.logger.WithError(err).Error("Call acknowledgment not received")
		return failResponse(MsgFailed)
	}
	if !ack.OK() {
		conn.DiscardEvent(protocol.CallTypeAction, requestID)
		return &CallResponse{
			Errcode:    CodeError,
			Errmsg:     MsgFailure,
			RequestID:  requestID,
			StatusCode: ack.StatusCode,
		}
	}

	ev, err := conn.AwaitEvent(ctx, protocol.CallTypeAction, requestID, evCh, time.Duration(s.config.CallEventTimeoutMs)*time.Millisecond)
	if err != nil {
		s.logger.WithError(err).Error("Call action event not received")
		return failResponse(MsgFailed)
	}

	var data actionEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.WithError(err).Error("Call action event is unreadable")
		return failResponse(MsgFailed)
	}
	if !data.Success {
		return &CallResponse{
			Errcode:    CodeError,
			Errmsg:     MsgFailure,
			RequestID:  requestID,
			StatusCode: ack.StatusCode,
		}
	}

	resp := &CallResponse{
		Errcode:      CodeSuccess,
		Errmsg:       MsgSuccess,
		SessionID:    data.SessionID,
		Destination:  req.ToFloor,
		ConnectionID: data.ConnectionID,
		RequestID:    requestID,
		StatusCode:   ack.StatusCode,
	}

	// Seed the door-hold context for this lift so a later delay request can
	// address the right deck and landing.
	s.holds.SeedContext(HoldKey{
		DeviceUUID: req.DeviceUUID,
		BuildingID: buildingID,
		GroupID:    groupID,
		LiftNo:     req.LiftNo,
	}, HoldSeed{
		ServedArea: toArea,
		LiftDeck:   firstDeckArea(group, req.LiftNo),
		TerminalID: terminal,
	})

	if encoded, err := json.Marshal(resp); err == nil {
		if err := s.governor.Record(ctx, key, encoded); err != nil {
			s.logger.WithError(err).Warn("Failed to cache call response")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"device_uuid": req.DeviceUUID,
		"lift_no":     req.LiftNo,
		"from":        req.FromFloor,
		"to":          req.ToFloor,
		"session_id":  data.SessionID,
	}).Info("Elevator call placed")

	return resp
}

// checkAvailability subscribes to the lift's status subtopic and requires a
// strict numeric lift_mode of 0 before any action is sent.
func (s *Service) checkAvailability(ctx context.Context, conn *protocol.Conn, buildingID, groupID string, liftNo int) error {
	subtopic := fmt.Sprintf("lift_%d/status", liftNo)

	sub := conn.Subscribe(subtopic)
	defer sub.Close()

	env := protocol.Envelope{
		Type:       protocol.TypeSiteMonitoring,
		BuildingID: buildingID,
		GroupID:    groupID,
		CallType:   protocol.CallTypeMonitor,
		Payload: protocol.Payload{
			RequestID: protocol.NewRequestID(),
			Time:      protocol.Timestamp(time.Now()),
			Subtopics: []string{subtopic},
		},
	}
	if err := conn.Send(env); err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(s.config.AvailabilityWaitMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case ev := <-sub.C():
		var data struct {
			LiftMode json.RawMessage `json:"lift_mode"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("%w: unreadable status event", ErrLiftUnavailable)
		}
		mode, err := strconv.Atoi(strings.TrimSpace(string(data.LiftMode)))
		if err != nil || mode != 0 {
			return fmt.Errorf("%w: lift_mode %s", ErrLiftUnavailable, string(data.LiftMode))
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no status event", ErrLiftUnavailable)
	case <-conn.Done():
		return protocol.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allowedLiftsFor returns the requested lift's deck area ids
func (s *Service) allowedLiftsFor(group *topology.Group, liftNo int) []int {
	if group == nil {
		return nil
	}
	for _, lift := range group.Lifts {
		if topology.LiftNumber(lift) == liftNo {
			return topology.DeckAreaIDs(lift)
		}
	}
	return nil
}

func firstDeckArea(group *topology.Group, liftNo int) int {
	if group == nil {
		return 0
	}
	for _, lift := range group.Lifts {
		if topology.LiftNumber(lift) == liftNo {
			if ids := topology.DeckAreaIDs(lift); len(ids) > 0 {
				return ids[0]
			}
		}
	}
	return 0
}

// terminalOverrides converts the config override map to terminal ids
func (s *Service) terminalOverrides() map[int]string {
	if len(s.config.TerminalTypeOverrides) == 0 {
		return nil
	}
	out := make(map[int]string, len(s.config.TerminalTypeOverrides))
	for idStr, typ := range s.config.TerminalTypeOverrides {
		if id, err := strconv.Atoi(idStr); err == nil {
			out[id] = typ
		}
	}
	return out
}

// ListElevators returns the group's lifts with their accessible floors
func (s *Service) ListElevators(ctx context.Context, placeID, deviceUUID string) *ListResponse {
	buildingID, groupID := ParsePlaceID(placeID)

	topo, err := s.topo.Topology(ctx, buildingID, groupID)
	if err != nil {
		s.logger.WithError(err).Error("Topology lookup failed")
		return &ListResponse{Errcode: CodeError, Errmsg: MsgFailed}
	}

	group := topo.GroupByID(groupID)
	if group == nil {
		return &ListResponse{Errcode: CodeError, Errmsg: MsgFailed}
	}

	results := make([]ListResult, 0, len(group.Lifts))
	for _, lift := range group.Lifts {
		liftNo := topology.LiftNumber(lift)
		if liftNo == 0 {
			continue
		}

		result := ListResult{
			LiftNo:           liftNo,
			AccessibleFloors: accessibleFloors(lift, group),
			BindingStatus:    "11",
		}

		if deviceUUID != "" && s.bindings != nil {
			bound, err := s.bindings.IsBound(ctx, deviceUUID, liftNo)
			if err != nil {
				s.logger.WithError(err).Warn("Binding lookup failed")
			} else if !bound {
				result.BindingStatus = "10"
			}
		}

		results = append(results, result)
	}

	return &ListResponse{Errcode: CodeSuccess, Errmsg: MsgSuccess, Result: results}
}

// accessibleFloors renders the sorted unique floor list served by a lift
func accessibleFloors(lift topology.Lift, group *topology.Group) string {
	seen := make(map[int]bool)
	var floors []int

	for _, f := range lift.Floors {
		if f.GroupFloorID != 0 && !seen[f.GroupFloorID] {
			seen[f.GroupFloorID] = true
			floors = append(floors, f.GroupFloorID)
		}
	}
	if len(floors) == 0 {
		for _, d := range group.Destinations {
			if d.GroupFloorID != 0 && !seen[d.GroupFloorID] {
				seen[d.GroupFloorID] = true
				floors = append(floors, d.GroupFloorID)
			}
		}
	}

	sort.Ints(floors)

	parts := make([]string, len(floors))
	for i, f := range floors {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}

// DelayRequest asks for the lift's doors to be held open
type DelayRequest struct {
	DeviceUUID string
	PlaceID    string
	LiftNo     int
	Seconds    int
}

// DelayDoors holds a lift's doors open until the requested horizon, or
// releases an active hold when seconds is zero.
func (s *Service) DelayDoors(ctx context.Context, req DelayRequest) *BaseResponse {
	buildingID, groupID := ParsePlaceID(req.PlaceID)

	key := HoldKey{
		DeviceUUID: req.DeviceUUID,
		BuildingID: buildingID,
		GroupID:    groupID,
		LiftNo:     req.LiftNo,
	}

	if err := s.holds.Hold(ctx, key, req.Seconds); err != nil {
		s.logger.WithError(err).WithField("lift_no", req.LiftNo).Error("Door hold request failed")
		return baseFail(MsgFailed)
	}

	return baseOK()
}

// ReserveOrCancel locks or unlocks a lift for a robot journey. The vendor
// protocol carries no reservation message; the operation validates the
// request and the device binding only.
func (s *Service) ReserveOrCancel(ctx context.Context, placeID string, liftNo, locked int, deviceUUID string) *BaseResponse {
	if locked != 0 && locked != 1 {
		return baseFail(MsgFailed)
	}

	_, _ = ParsePlaceID(placeID)

	if deviceUUID != "" && s.bindings != nil {
		bound, err := s.bindings.IsBound(ctx, deviceUUID, liftNo)
		if err != nil {
			s.logger.WithError(err).Warn("Binding lookup failed")
		} else if !bound {
			return baseFail(MsgFailure)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"device_uuid": deviceUUID,
		"lift_no":     liftNo,
		"locked":      locked,
	}).Info("Reserve state recorded")

	return baseOK()
}

// Holds exposes the door-hold scheduler
func (s *Service) Holds() *HoldScheduler {
	return s.holds
}
