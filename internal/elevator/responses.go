package elevator

// Response error codes and messages surfaced to the robot API
const (
	CodeSuccess = 0
	CodeError   = 1
)

const (
	MsgSuccess         = "SUCCESS"
	MsgFailure         = "FAILURE"
	MsgFailed          = "FAILED"
	MsgRateLimited     = "RATE_LIMITED"
	MsgLiftUnavailable = "LIFT_UNAVAILABLE"
)

// BaseResponse is the generic errcode/errmsg response pair
type BaseResponse struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

// CallResponse is the callElevator response
type CallResponse struct {
	Errcode      int    `json:"errcode"`
	Errmsg       string `json:"errmsg"`
	SessionID    int    `json:"sessionId,omitempty"`
	Destination  int    `json:"destination,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	RequestID    int    `json:"requestId,omitempty"`
	StatusCode   int    `json:"statusCode,omitempty"`
}

// ListResult is one lift entry in the listElevators response
type ListResult struct {
	LiftNo           int    `json:"liftNo"`
	AccessibleFloors string `json:"accessibleFloors"`
	BindingStatus    string `json:"bindingStatus"`
}

// ListResponse is the listElevators response
type ListResponse struct {
	Errcode int          `json:"errcode"`
	Errmsg  string       `json:"errmsg"`
	Result  []ListResult `json:"result"`
}

// StatusResponse is the getLiftStatus response, a point-in-time snapshot
type StatusResponse struct {
	Errcode        int    `json:"errcode"`
	Errmsg         string `json:"errmsg"`
	LiftNo         int    `json:"liftNo"`
	Floor          int    `json:"floor"`
	State          int    `json:"state"`
	PrevDirection  int    `json:"prevDirection"`
	LiftDoorStatus int    `json:"liftDoorStatus"`
	Mode           string `json:"mode,omitempty"`
}

func failResponse(msg string) *CallResponse {
	return &CallResponse{Errcode: CodeError, Errmsg: msg}
}

func baseFail(msg string) *BaseResponse {
	return &BaseResponse{Errcode: CodeError, Errmsg: msg}
}

func baseOK() *BaseResponse {
	return &BaseResponse{Errcode: CodeSuccess, Errmsg: MsgSuccess}
}
