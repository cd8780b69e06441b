// Package proto defines the JSON wire protocol shared by the server and the
// client SDK. Every frame is an envelope {type, payload} with one payload
// struct per event type.
package proto

import (
	"encoding/json"
	"time"
)

// Client → server event types.
const (
	TypeAuthenticate = "AUTHENTICATE"
	TypeJoinRoom     = "JOIN_ROOM"
	TypeLeaveRoom    = "LEAVE_ROOM"
	TypeSendMessage  = "SEND_MESSAGE"
	TypeStartTyping  = "START_TYPING"
	TypeStopTyping   = "STOP_TYPING"
)

// Server → client event types.
const (
	TypeAuthenticated = "AUTHENTICATED"
	TypeOnlineUsers   = "ONLINE_USERS"
	TypeUserOnline    = "USER_ONLINE"
	TypeUserOffline   = "USER_OFFLINE"
	TypeMessage       = "MESSAGE"
	TypeTyping        = "TYPING"
	// STOP_TYPING reuses the inbound tag; the payload differs per direction.
	TypeRoomJoined    = "ROOM_JOINED"
	TypeRoomLeft      = "ROOM_LEFT"
	TypeRoomCreated   = "ROOM_CREATED"
	TypeRoomUpdated   = "ROOM_UPDATED"
	TypeRoomDeleted   = "ROOM_DELETED"
	TypeError         = "ERROR"
)

// Inbound is the envelope for client → server frames. The payload stays raw
// until the router dispatches on the type tag.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is the envelope for server → client frames.
type Outbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewInbound builds an inbound envelope from a payload struct.
func NewInbound(typ string, payload any) (Inbound, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: typ, Payload: raw}, nil
}

// NewOutbound builds an outbound envelope from a payload struct.
// Payload types are plain structs, so marshalling cannot fail at runtime;
// a nil payload is sent as an envelope with no payload field.
func NewOutbound(typ string, payload any) Outbound {
	if payload == nil {
		return Outbound{Type: typ}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Outbound{Type: typ}
	}
	return Outbound{Type: typ, Payload: raw}
}

// ErrorEvent builds an ERROR outbound envelope.
func ErrorEvent(code, message string) Outbound {
	return NewOutbound(TypeError, ErrorPayload{Code: code, Message: message})
}

// Client → server payloads.

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID   string `json:"roomId"`
	Content  string `json:"content,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	// TempID is the client-generated correlation token echoed back on the
	// confirmed MESSAGE event.
	TempID string `json:"tempId,omitempty"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// Server → client payloads.

type AuthenticatedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type UserOnlinePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserOfflinePayload struct {
	UserID string `json:"userId"`
}

type MessagePayload struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	Content        string    `json:"content"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	TempID         string    `json:"tempId,omitempty"`
}

type TypingEventPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type StopTypingEventPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
}

type RoomLeftPayload struct {
	RoomID string `json:"roomId"`
}

// Participant is a user reference inside a room payload.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RoomPayload carries a full room snapshot on ROOM_CREATED and ROOM_UPDATED.
type RoomPayload struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type RoomDeletedPayload struct {
	RoomID string `json:"roomId"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
