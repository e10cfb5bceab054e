package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/npezzotti/studyhub/internal/types"
)

// Event names shared by both real-time transports.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventTyping         = "typing"
	EventReceiveMessage = "receive_message"
	EventUserTyping     = "user_typing"
	EventError          = "error"
)

var errMissingRoom = errors.New("room is required")

// ClientMessage is a frame read from a native websocket connection.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerMessage is a frame written to a connection.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SendMessage is the payload of a send_message event. The sender id always
// comes from the authenticated connection and the timestamp from the server,
// so User and Timestamp are accepted but ignored.
type SendMessage struct {
	Room      string `json:"room"`
	User      string `json:"user,omitempty"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func ReceiveMessage(msg types.Message) *ServerMessage {
	return &ServerMessage{
		Event: EventReceiveMessage,
		Data:  msg,
	}
}

func UserTyping(data map[string]any) *ServerMessage {
	return &ServerMessage{
		Event: EventUserTyping,
		Data:  data,
	}
}

func ErrInvalidMessage() *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data:  errorPayload{Message: "invalid message format"},
	}
}

func ErrUnknownEvent(event string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data:  errorPayload{Message: "unknown event " + event},
	}
}

// parseRoom accepts either a bare JSON string or an object with a room field.
func parseRoom(data json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		var obj struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", err
		}
		room = obj.Room
	}

	room = strings.TrimSpace(room)
	if room == "" {
		return "", errMissingRoom
	}
	return room, nil
}

// typingRoom extracts the room of a typing payload.
func typingRoom(data map[string]any) (string, error) {
	room, _ := data["room"].(string)
	room = strings.TrimSpace(room)
	if room == "" {
		return "", errMissingRoom
	}
	return room, nil
}
