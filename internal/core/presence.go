package core

import "sync"

// presenceRegistry maps a user id to the set of live authenticated
// connections that user currently holds. An entry exists iff the set is
// non-empty.
type presenceRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Conn]struct{}
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{byUser: make(map[string]map[*Conn]struct{})}
}

// register adds a connection and reports whether this is the user's first
// live connection, i.e. the offline→online transition.
func (p *presenceRegistry) register(userID string, c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.byUser[userID]
	if !ok {
		conns = make(map[*Conn]struct{})
		p.byUser[userID] = conns
	}
	conns[c] = struct{}{}
	return !ok
}

// unregister removes a connection and reports whether the user is now fully
// offline. Removing an unknown connection is a no-op.
func (p *presenceRegistry) unregister(userID string, c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.byUser[userID]
	if !ok {
		return false
	}
	if _, held := conns[c]; !held {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(p.byUser, userID)
		return true
	}
	return false
}

func (p *presenceRegistry) connsFor(userID string) []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]*Conn, 0, len(p.byUser[userID]))
	for c := range p.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

func (p *presenceRegistry) onlineUserIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		ids = append(ids, id)
	}
	return ids
}
