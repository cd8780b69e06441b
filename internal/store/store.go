// Package store defines the durable persistence collaborator the realtime
// core and the REST layer depend on. Message and room identifiers are
// assigned exclusively here.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRoomNotFound is returned by CheckRoomAccess when the target room
	// does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotParticipant is returned by CheckRoomAccess when the user is not
	// on the room's durable participant list.
	ErrNotParticipant = errors.New("not a room participant")
)

// User represents a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// RoomType defines the kind of room.
type RoomType string

const (
	// RoomTypePrivate is a two-person room, deduplicated per user pair.
	RoomTypePrivate RoomType = "private"
	// RoomTypeGroup is a named room with two or more participants.
	RoomTypeGroup RoomType = "group"
)

// Participant is a user reference attached to a room.
type Participant struct {
	ID       string
	Username string
}

// Room represents a chat room with its durable participant list.
type Room struct {
	ID           string
	Name         string
	Type         RoomType
	Participants []Participant
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID             string
	RoomID         string
	SenderID       string
	SenderUsername string
	Content        string
	ImageURL       string
	CreatedAt      time.Time
}

// UserStore manages accounts for the identity collaborator.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	// UsersExist reports whether every id refers to a registered user.
	UsersExist(ctx context.Context, ids []string) (bool, error)
}

// RoomStore manages rooms and their durable participant lists.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string, typ RoomType, participantIDs []string) (*Room, error)
	RoomByID(ctx context.Context, id string) (*Room, error)
	RoomsForUser(ctx context.Context, userID string) ([]*Room, error)
	// FindPrivateRoom returns the existing private room for the user pair, or
	// ErrNotFound.
	FindPrivateRoom(ctx context.Context, userA, userB string) (*Room, error)
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	DeleteRoom(ctx context.Context, roomID string) error

	// CheckRoomAccess implements the hub's authorization question: nil when
	// the room exists and the user is a participant, ErrRoomNotFound or
	// ErrNotParticipant otherwise.
	CheckRoomAccess(ctx context.Context, roomID, userID string) error
}

// MessageStore persists messages and serves paginated history.
type MessageStore interface {
	SaveMessage(ctx context.Context, roomID, senderID, content, imageURL string) (id string, createdAt time.Time, err error)
	// MessagesPage returns page (1-based) of the room's history, oldest-first
	// within the page, newest pages first, and whether older messages remain.
	MessagesPage(ctx context.Context, roomID string, page, limit int) ([]*Message, bool, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	RoomStore
	MessageStore
	Close() error
}
