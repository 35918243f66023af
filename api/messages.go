package api

import (
	"encoding/json"
	"fmt"
)

// RootID is the id of the object at the top of the hub's device tree.
const RootID = "GEN#17#13#1"

// RequestType is the "req_type" of an envelope.
type RequestType int

const (
	RequestStatus      RequestType = 0
	RequestAction      RequestType = 1
	RequestSubscribe   RequestType = 3
	RequestLogin       RequestType = 5
	RequestPing        RequestType = 7
	RequestReadParams  RequestType = 8
	RequestGetDatetime RequestType = 9
	RequestAnnounce    RequestType = 13
)

func (t RequestType) String() string {
	switch t {
	case RequestStatus:
		return "status"
	case RequestAction:
		return "action"
	case RequestSubscribe:
		return "subscribe"
	case RequestLogin:
		return "login"
	case RequestPing:
		return "ping"
	case RequestReadParams:
		return "read_params"
	case RequestGetDatetime:
		return "get_datetime"
	case RequestAnnounce:
		return "announce"
	default:
		return fmt.Sprintf("req_type(%d)", int(t))
	}
}

// RequestSubType is the "req_sub_type" of an envelope.
type RequestSubType int

const (
	SubTypeNone              RequestSubType = -1
	SubTypeCreateObject      RequestSubType = 0
	SubTypeUpdateObject      RequestSubType = 1
	SubTypeDeleteObject      RequestSubType = 2
	SubTypeSetActionObject   RequestSubType = 3
	SubTypeGetTempoObject    RequestSubType = 4
	SubTypeSubscribeRT       RequestSubType = 5
	SubTypeUnsubscribeObject RequestSubType = 6
	SubTypeGetConfParamGroup RequestSubType = 23
)

// ActionType is the "act_type" of an action request.
type ActionType int

const (
	ActionSet              ActionType = 0
	ActionSwitchSeason     ActionType = 4
	ActionSwitchClimaMode  ActionType = 13
	ActionSetClimaSetPoint ActionType = 14
	ActionSetUmiSetPoint   ActionType = 19
	ActionSwitchUmiMode    ActionType = 23
	ActionSetBlindPosition ActionType = 52
)

// DetailLevel controls how much of the device tree a status request returns.
type DetailLevel int

const (
	DetailSummary DetailLevel = 1
	DetailFull    DetailLevel = 2
)

// AgentType identifies the kind of agent that talks to the hub. Only plain
// clients are supported.
type AgentType int

const AgentTypeClient AgentType = 0

// paramTypeGeneral selects the general configuration group in read params
// requests.
const paramTypeGeneral = 2

// Request is a message sent from the client to the hub.
//
// SequenceID and SessionToken are assigned by [Client] when the request is
// sent and must be left empty by callers.
type Request struct {
	RequestType    RequestType    `json:"req_type"`
	SequenceID     int            `json:"seq_id"`
	RequestSubType RequestSubType `json:"req_sub_type"`
	SessionToken   string         `json:"sessiontoken,omitempty"`
	AgentID        int            `json:"agent_id,omitempty"`
	AgentType      *AgentType     `json:"agent_type,omitempty"`
	ObjectID       string         `json:"obj_id,omitempty"`
	ObjectType     ObjectType     `json:"obj_type,omitempty"`
	DetailLevel    DetailLevel    `json:"detail_level,omitempty"`
	ActionType     *ActionType    `json:"act_type,omitempty"`
	ActionParams   []int          `json:"act_params,omitempty"`
	ParamType      int            `json:"param_type,omitempty"`
	Username       string         `json:"user_name,omitempty"`
	Password       string         `json:"password,omitempty"`
}

// Response is a message sent from the hub to the client, either in reply to
// a [Request] or unsolicited, when some object's state changes.
type Response struct {
	RequestType    RequestType       `json:"req_type"`
	SequenceID     int               `json:"seq_id"`
	RequestSubType RequestSubType    `json:"req_sub_type"`
	ResultCode     int               `json:"req_result"`
	Message        string            `json:"message,omitempty"`
	SessionToken   string            `json:"sessiontoken,omitempty"`
	AgentID        int               `json:"agent_id,omitempty"`
	ObjectID       string            `json:"obj_id,omitempty"`
	OutData        []json.RawMessage `json:"out_data,omitempty"`
	ParamsData     []Param           `json:"params_data,omitempty"`
}

// Param is a single configuration parameter returned by read params requests.
type Param struct {
	Name  string `json:"param_name"`
	Value string `json:"param_value"`
}

type announceData struct {
	AgentID     int    `json:"agent_id"`
	Description string `json:"descrizione"`
}

type correlationKey struct {
	sequenceID  int
	requestType RequestType
}

func (r *Request) key() correlationKey {
	return correlationKey{sequenceID: r.SequenceID, requestType: r.RequestType}
}

func (r *Response) key() correlationKey {
	return correlationKey{sequenceID: r.SequenceID, requestType: r.RequestType}
}

// requiresSession reports whether requests of type t carry the session token.
func requiresSession(t RequestType) bool {
	return t != RequestAnnounce && t != RequestLogin
}

func ptr[T any](v T) *T {
	return &v
}
