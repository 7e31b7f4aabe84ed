package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"lift-robot-bridge/internal/config"
	"lift-robot-bridge/internal/elevator"
)

// maxBodyBytes caps inbound request bodies
const maxBodyBytes = 1 << 20

// Handlers contains the HTTP request handlers for the lift endpoints
type Handlers struct {
	config  *config.Config
	logger  *logrus.Entry
	service *elevator.Service
}

// NewHandlers creates handlers backed by the elevator service
func NewHandlers(cfg *config.Config, logger *logrus.Entry, service *elevator.Service) *Handlers {
	return &Handlers{
		config:  cfg,
		logger:  logger,
		service: service,
	}
}

// ListElevators handles POST /openapi/v5/lift/list
func (h *Handlers) ListElevators(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp := h.service.ListElevators(r.Context(), req.PlaceID, req.DeviceUUID)
	writeJSON(w, http.StatusOK, resp)
}

// LiftStatus handles POST /openapi/v5/lift/status
func (h *Handlers) LiftStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp := h.service.GetLiftStatus(r.Context(), req.PlaceID, req.LiftNo)
	writeJSON(w, http.StatusOK, resp)
}

// CallElevator handles POST /openapi/v5/lift/call
func (h *Handlers) CallElevator(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp := h.service.CallElevator(r.Context(), elevator.CallRequest{
		DeviceUUID: req.DeviceUUID,
		PlaceID:    req.PlaceID,
		LiftNo:     req.LiftNo,
		FromFloor:  req.FromFloor,
		ToFloor:    req.ToFloor,
	})
	writeJSON(w, http.StatusOK, resp)
}

// DelayDoors handles POST /openapi/v5/lift/open
func (h *Handlers) DelayDoors(w http.ResponseWriter, r *http.Request) {
	var req DelayRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp := h.service.DelayDoors(r.Context(), elevator.DelayRequest{
		DeviceUUID: req.DeviceUUID,
		PlaceID:    req.PlaceID,
		LiftNo:     req.LiftNo,
		Seconds:    req.Seconds,
	})
	writeJSON(w, http.StatusOK, resp)
}

// LockElevator handles POST /openapi/v5/lift/lock
func (h *Handlers) LockElevator(w http.ResponseWriter, r *http.Request) {
	var req LockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp := h.service.ReserveOrCancel(r.Context(), req.PlaceID, req.LiftNo, req.Locked, req.DeviceUUID)
	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest decodes the JSON body into dst, writing a failure body when
// the payload is unreadable.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusOK, &ErrorResponse{Errcode: 1, Errmsg: "FAILED"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
