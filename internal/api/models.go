package api

// SignedFields carries the signature material every robot request includes
type SignedFields struct {
	DeviceUUID string `json:"deviceUuid"`
	AppName    string `json:"appname"`
	Sign       string `json:"sign"`
	Check      string `json:"check"`
	Ts         int64  `json:"ts"`
}

// ListRequest asks for the lifts of a place
type ListRequest struct {
	SignedFields
	PlaceID string `json:"placeId"`
}

// StatusRequest asks for a lift's live status snapshot
type StatusRequest struct {
	SignedFields
	PlaceID string `json:"placeId"`
	LiftNo  int    `json:"liftNo"`
}

// CallRequest asks for a destination call
type CallRequest struct {
	SignedFields
	PlaceID   string `json:"placeId"`
	LiftNo    int    `json:"liftNo"`
	FromFloor int    `json:"fromFloor"`
	ToFloor   int    `json:"toFloor"`
}

// DelayRequest asks for the doors to be held open
type DelayRequest struct {
	SignedFields
	PlaceID string `json:"placeId"`
	LiftNo  int    `json:"liftNo"`
	Seconds int    `json:"seconds"`
}

// LockRequest reserves or releases a lift for a robot journey
type LockRequest struct {
	SignedFields
	PlaceID string `json:"placeId"`
	LiftNo  int    `json:"liftNo"`
	Locked  int    `json:"locked"`
}

// ErrorResponse is the generic failure body
type ErrorResponse struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}
