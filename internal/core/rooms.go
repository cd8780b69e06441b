package core

import "sync"

// membershipTracker records which users are actively viewing which rooms in
// the current session. This is distinct from the durable participant list:
// only tracked members receive live broadcasts, and only tracked members may
// send. Empty room entries are removed eagerly.
type membershipTracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func newMembershipTracker() *membershipTracker {
	return &membershipTracker{rooms: make(map[string]map[string]struct{})}
}

func (m *membershipTracker) join(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

func (m *membershipTracker) leave(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

func (m *membershipTracker) isMember(roomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.rooms[roomID][userID]
	return ok
}

func (m *membershipTracker) members(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.rooms[roomID]))
	for id := range m.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// removeUser drops the user from every room, pruning empty entries.
func (m *membershipTracker) removeUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for roomID, members := range m.rooms {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
}
