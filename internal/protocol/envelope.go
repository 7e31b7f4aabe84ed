package protocol

import (
	"encoding/json"
	"math/rand"
	"time"
)

// Message type families carried over the stream connection
const (
	TypeLiftCall       = "lift-call-api-v2"
	TypeSiteMonitoring = "site-monitoring"
	TypeCommonAPI      = "common-api"
)

// Call types within the lift-call and common families
const (
	CallTypePing     = "ping"
	CallTypeMonitor  = "monitor"
	CallTypeAction   = "action"
	CallTypeHoldOpen = "hold_open"
)

// Destination call action code
const ActionDestinationCall = 2

// Envelope is an outbound request frame
type Envelope struct {
	Type       string  `json:"type"`
	BuildingID string  `json:"buildingId"`
	GroupID    string  `json:"groupId"`
	CallType   string  `json:"callType"`
	Payload    Payload `json:"payload"`
}

// Payload carries the per-call-type request fields
type Payload struct {
	RequestID  int      `json:"request_id"`
	Time       string   `json:"time,omitempty"`
	Terminal   int      `json:"terminal,omitempty"`
	Area       int      `json:"area,omitempty"`
	Call       *Call    `json:"call,omitempty"`
	ServedArea int      `json:"served_area,omitempty"`
	LiftDeck   int      `json:"lift_deck,omitempty"`
	HardTime   *int     `json:"hard_time,omitempty"`
	SoftTime   *int     `json:"soft_time,omitempty"`
	Subtopics  []string `json:"subtopics,omitempty"`
}

// Call is the destination call body of an action envelope
type Call struct {
	Action       int   `json:"action"`
	Destination  int   `json:"destination"`
	AllowedLifts []int `json:"allowed_lifts,omitempty"`
}

// Ack is a request acknowledgment frame (type ok or error)
type Ack struct {
	Type       string `json:"type"`
	RequestID  int    `json:"requestId"`
	StatusCode int    `json:"statusCode"`
}

// OK reports whether the acknowledgment was positive
func (a Ack) OK() bool {
	return a.Type == "ok"
}

// Event is a domain event frame, keyed by callType or subtopic
type Event struct {
	CallType string          `json:"callType"`
	Subtopic string          `json:"subtopic"`
	Data     json.RawMessage `json:"data"`
}

// RequestID extracts the request id echoed inside the event data, if present
func (e Event) RequestID() int {
	var body struct {
		RequestID int `json:"request_id"`
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		return 0
	}
	return body.RequestID
}

// frame is the superset of inbound message shapes used for dispatch
type frame struct {
	Type       string          `json:"type,omitempty"`
	RequestID  int             `json:"requestId,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	CallType   string          `json:"callType,omitempty"`
	Subtopic   string          `json:"subtopic,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewRequestID generates a request correlation id
func NewRequestID() int {
	return rand.Intn(1_000_000_000)
}

// Timestamp renders the protocol time field
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// IntPtr returns a pointer to v, for hard_time/soft_time fields where an
// explicit zero must be serialized.
func IntPtr(v int) *int {
	return &v
}
