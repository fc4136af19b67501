package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrUnknownFormat    = errors.New("unknown protocol format")
	ErrMissingEventName = errors.New("frame has no event name")
	ErrReservedEvent    = errors.New("reserved lifecycle event cannot arrive from the wire")
	ErrPayloadNotObject = errors.New("payload must encode to a JSON object")
	ErrEmptyPayload     = errors.New("event has no payload")
)

// Reserved lifecycle events, emitted only by the Connection Manager.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventError           = "error"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
)

// Phase events that drive navigation.
const (
	EventMatchFound = "match_found"
	EventGameStart  = "game_start"
	EventGameOver   = "game_over"
	EventRestart    = "restart"
)

// Lobby requests understood by the backend.
const (
	EventHandshake  = "handshake"
	EventCreateRoom = "create_room"
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
)

// IsReserved reports whether name is a lifecycle event owned by the Connection Manager.
func IsReserved(name string) bool {
	switch name {
	case EventConnect, EventDisconnect, EventError, EventReconnecting, EventReconnectFailed:
		return true
	}
	return false
}

// Event is a decoded inbound message.
type Event struct {
	Name       string          // e.g. "match_found", "connect"
	Payload    json.RawMessage // Raw JSON payload (may be empty)
	ReceivedAt time.Time       // Local timestamp when the frame was read
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(e.Payload, v)
}

// Lifecycle is the payload of every reserved lifecycle event.
type Lifecycle struct {
	Endpoint string `json:"endpoint"`
	ConnID   string `json:"conn_id"`
	Status   string `json:"status"`
	Attempt  int    `json:"attempt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewLifecycleEvent builds a reserved event carrying info as its payload.
func NewLifecycleEvent(name string, info Lifecycle) Event {
	data, _ := json.Marshal(info)
	return Event{
		Name:       name,
		Payload:    data,
		ReceivedAt: time.Now(),
	}
}

// JoinRoomParams is the payload of a join_room request.
type JoinRoomParams struct {
	RoomID string `json:"roomid"`
}
