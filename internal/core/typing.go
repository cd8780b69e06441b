package core

import "sync"

// typingRegistry tracks who is signalling "typing" per room, so the hub can
// emit STOP_TYPING on behalf of users who disconnect mid-typing. The server
// applies no timeout of its own; staleness is bounded by the sender's
// stop-typing or its disconnect.
type typingRegistry struct {
	mu    sync.Mutex
	rooms map[string]map[string]string // room id → user id → username
}

func newTypingRegistry() *typingRegistry {
	return &typingRegistry{rooms: make(map[string]map[string]string)}
}

func (t *typingRegistry) start(roomID, userID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	typists, ok := t.rooms[roomID]
	if !ok {
		typists = make(map[string]string)
		t.rooms[roomID] = typists
	}
	typists[userID] = username
}

func (t *typingRegistry) stop(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	typists, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(typists, userID)
	if len(typists) == 0 {
		delete(t.rooms, roomID)
	}
}

// clearUser removes the user from every typing set and returns the room ids
// that were affected, so the hub can notify their members.
func (t *typingRegistry) clearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []string
	for roomID, typists := range t.rooms {
		if _, ok := typists[userID]; !ok {
			continue
		}
		delete(typists, userID)
		if len(typists) == 0 {
			delete(t.rooms, roomID)
		}
		affected = append(affected, roomID)
	}
	return affected
}
