package client

import (
	"sort"
	"sync"
	"time"

	"github.com/relaychat/relaychat/pkg/proto"
)

// Message is one entry in the local message view. Provisional entries carry
// Pending until the server confirms them; entries that were never confirmed
// carry Failed.
type Message struct {
	ID             string
	TempID         string
	RoomID         string
	SenderID       string
	SenderUsername string
	Content        string
	ImageURL       string
	CreatedAt      time.Time
	Pending        bool
	Failed         bool
}

func messageFromPayload(p proto.MessagePayload) Message {
	return Message{
		ID:             p.ID,
		TempID:         p.TempID,
		RoomID:         p.RoomID,
		SenderID:       p.SenderID,
		SenderUsername: p.SenderUsername,
		Content:        p.Content,
		ImageURL:       p.ImageURL,
		CreatedAt:      p.CreatedAt,
	}
}

// State is the session's local view of presence, typing, rooms and messages.
// All methods are safe for concurrent use.
type State struct {
	mu       sync.Mutex
	online   map[string]struct{}
	typing   map[string]map[string]string // room id -> user id -> username
	rooms    map[string]proto.RoomPayload
	messages map[string][]Message
	pending  map[string]string // temp id -> room id
}

func NewState() *State {
	return &State{
		online:   make(map[string]struct{}),
		typing:   make(map[string]map[string]string),
		rooms:    make(map[string]proto.RoomPayload),
		messages: make(map[string][]Message),
		pending:  make(map[string]string),
	}
}

// AddOptimistic inserts a provisional message into the room's view.
func (s *State) AddOptimistic(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Pending = true
	m.Failed = false
	s.pending[m.TempID] = m.RoomID
	s.messages[m.RoomID] = insertSorted(s.messages[m.RoomID], m)
}

// Confirm applies a server-confirmed message. When the confirmation carries a
// known correlation token the provisional entry is replaced in place;
// otherwise the message is inserted in timestamp order. Confirmed duplicates
// are dropped.
func (s *State) Confirm(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[m.RoomID]
	if m.TempID != "" {
		if _, ok := s.pending[m.TempID]; ok {
			delete(s.pending, m.TempID)
			for i := range list {
				if list[i].TempID == m.TempID {
					list[i] = m
					sortMessages(list)
					return
				}
			}
			// provisional entry was evicted, fall through to an insert
		}
	}
	for i := range list {
		if m.ID != "" && list[i].ID == m.ID {
			return
		}
	}
	s.messages[m.RoomID] = insertSorted(list, m)
}

// MarkFailed flags a still-unconfirmed provisional message as failed.
// Returns false when the token is unknown or already confirmed.
func (s *State) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, ok := s.pending[tempID]
	if !ok {
		return false
	}
	delete(s.pending, tempID)
	list := s.messages[roomID]
	for i := range list {
		if list[i].TempID == tempID {
			list[i].Pending = false
			list[i].Failed = true
			return true
		}
	}
	return false
}

// SetHistory replaces a room's message view with a fetched history page
// combined with any still-provisional local entries.
func (s *State) SetHistory(roomID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Message, 0, len(msgs))
	for _, m := range s.messages[roomID] {
		if m.Pending || m.Failed {
			kept = append(kept, m)
		}
	}
	list := append(msgs, kept...)
	sortMessages(list)
	s.messages[roomID] = list
}

// Messages returns a copy of the room's message view in timestamp order.
func (s *State) Messages(roomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[roomID]...)
}

func (s *State) setOnline(userIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		s.online[id] = struct{}{}
	}
}

func (s *State) userOnline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = struct{}{}
}

func (s *State) userOffline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	for roomID, users := range s.typing {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.typing, roomID)
		}
	}
}

// IsOnline reports whether the user currently has at least one connection.
func (s *State) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns the known-online user ids, sorted.
func (s *State) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) addTyping(roomID, userID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.typing[roomID]
	if !ok {
		users = make(map[string]string)
		s.typing[roomID] = users
	}
	users[userID] = username
}

func (s *State) removeTyping(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[roomID]
	delete(users, userID)
	if len(users) == 0 {
		delete(s.typing, roomID)
	}
}

// TypingUsers returns the usernames currently typing in a room, sorted.
func (s *State) TypingUsers(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.typing[roomID]))
	for _, name := range s.typing[roomID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *State) upsertRoom(r proto.RoomPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *State) removeRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	delete(s.typing, roomID)
}

// SetRooms replaces the known-rooms view, typically from a list fetch.
func (s *State) SetRooms(rooms []proto.RoomPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]proto.RoomPayload, len(rooms))
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
}

// Rooms returns the known rooms sorted by name.
func (s *State) Rooms() []proto.RoomPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.RoomPayload, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Room looks up a known room by id.
func (s *State) Room(roomID string) (proto.RoomPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

// ClearPresence drops online and typing views after a disconnect. Messages
// are kept so the view survives reconnects.
func (s *State) ClearPresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{})
	s.typing = make(map[string]map[string]string)
}

func insertSorted(list []Message, m Message) []Message {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(m.CreatedAt)
	})
	list = append(list, Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

func sortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
