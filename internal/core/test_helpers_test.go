package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relaychat/relaychat/internal/log"
	"github.com/relaychat/relaychat/pkg/proto"
)

type fakeVerifier struct {
	users map[string][2]string // token -> {user id, username}
}

func (f *fakeVerifier) VerifyToken(token string) (string, string, error) {
	u, ok := f.users[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return u[0], u[1], nil
}

type fakePersistence struct {
	accessErr map[string]error // room id -> error
	saveErr   error
	saved     int
}

func (f *fakePersistence) CheckRoomAccess(_ context.Context, roomID, _ string) error {
	if err, ok := f.accessErr[roomID]; ok {
		return err
	}
	return nil
}

func (f *fakePersistence) SaveMessage(_ context.Context, roomID, senderID, content, imageURL string) (string, time.Time, error) {
	if f.saveErr != nil {
		return "", time.Time{}, f.saveErr
	}
	f.saved++
	return "msg-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), nil
}

func newTestHub(p *fakePersistence) *Hub {
	v := &fakeVerifier{users: map[string][2]string{
		"tok-alice": {"u-alice", "alice"},
		"tok-bob":   {"u-bob", "bob"},
		"tok-carol": {"u-carol", "carol"},
	}}
	if p == nil {
		p = &fakePersistence{}
	}
	return NewHub(v, p, log.Nop())
}

func newTestConn(id string) *Conn {
	return NewConn(id, func() {}, func() {})
}

func mustInbound(t *testing.T, typ string, payload any) proto.Inbound {
	t.Helper()
	in, err := proto.NewInbound(typ, payload)
	if err != nil {
		t.Fatalf("build %s event: %v", typ, err)
	}
	return in
}

func mustEvent(t *testing.T, c *Conn, typ string) proto.Outbound {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-c.Events():
			if ev.Type == typ {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected %s event not received on conn %s", typ, c.ID())
	return proto.Outbound{}
}

func noEvent(t *testing.T, c *Conn, typ string) {
	t.Helper()
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == typ {
				t.Fatalf("unexpected %s event on conn %s", typ, c.ID())
			}
		default:
			return
		}
	}
}

func decodePayload(t *testing.T, ev proto.Outbound, dst any) {
	t.Helper()
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
}

// authenticate runs the full handshake for a connection and drains the
// AUTHENTICATED and ONLINE_USERS replies.
func authenticate(t *testing.T, hub *Hub, c *Conn, token string) {
	t.Helper()

	hub.Attach(c)
	in := mustInbound(t, proto.TypeAuthenticate, proto.AuthenticatePayload{Token: token})
	if err := hub.HandleInbound(context.Background(), c, in); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	mustEvent(t, c, proto.TypeAuthenticated)
	mustEvent(t, c, proto.TypeOnlineUsers)
}
