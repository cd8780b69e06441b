package core

import (
	"sync"

	"github.com/relaychat/relaychat/pkg/proto"
)

// Conn is one live connection as seen by the hub. The transport drains the
// events queue into the socket and wires the probe/terminate hooks back to it.
// A connection starts unauthenticated; an identity is attached exactly once,
// on the first successful AUTHENTICATE.
type Conn struct {
	id     string
	events chan proto.Outbound

	probe     func()
	terminate func()

	mu       sync.Mutex
	alive    bool
	userID   string
	username string
}

// NewConn constructs a connection with an initialized outbound queue.
// probe asks the transport to send a liveness probe; terminate forcibly
// closes the underlying socket. Either hook may be nil.
func NewConn(id string, probe, terminate func()) *Conn {
	return &Conn{
		id:        id,
		events:    make(chan proto.Outbound, 32),
		probe:     probe,
		terminate: terminate,
		alive:     true,
	}
}

// ID returns the transport-assigned connection identifier.
func (c *Conn) ID() string { return c.id }

// Events is the outbound queue the transport write loop drains.
func (c *Conn) Events() <-chan proto.Outbound { return c.events }

// Send queues an event for delivery. Slow consumers are dropped rather than
// allowed to stall fan-out.
func (c *Conn) Send(ev proto.Outbound) {
	select {
	case c.events <- ev:
	default:
	}
}

// MarkAlive records that the peer answered a liveness probe.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// swapAlive sets the liveness flag and returns its previous value.
func (c *Conn) swapAlive(v bool) bool {
	c.mu.Lock()
	prev := c.alive
	c.alive = v
	c.mu.Unlock()
	return prev
}

// Identity returns the authenticated user, if any.
func (c *Conn) Identity() (userID, username string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username, c.userID != ""
}

// Authenticated reports whether the connection has passed token verification.
func (c *Conn) Authenticated() bool {
	_, _, ok := c.Identity()
	return ok
}

func (c *Conn) setIdentity(userID, username string) {
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.mu.Unlock()
}

// Terminate forcibly closes the underlying transport. The transport's close
// path then triggers the normal hub detach cleanup.
func (c *Conn) Terminate() {
	if c.terminate != nil {
		c.terminate()
	}
}

func (c *Conn) requestProbe() {
	if c.probe != nil {
		c.probe()
	}
}
