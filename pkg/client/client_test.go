package client

import (
	"testing"
	"time"

	"github.com/relaychat/relaychat/pkg/proto"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := Backoff(attempt, base, cap); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}
	// Shift overflow still lands on the cap.
	if got := Backoff(70, base, cap); got != cap {
		t.Fatalf("overflowing attempt: expected %v, got %v", cap, got)
	}
}

func TestConnectAuthenticates(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	waitStatus(t, s, StatusAwaitingAuth)
	handshake(t, s, fc)

	if id, name := s.Self(); id != "u-self" || name != "self" {
		t.Fatalf("unexpected identity %q/%q", id, name)
	}
	s.Disconnect()
	waitStatus(t, s, StatusDisconnected)
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	s.Connect()
	time.Sleep(20 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("expected a single dial, got %d", got)
	}
	s.Disconnect()
}

func TestReconnectAndRejoinActiveRoom(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	s.SetActiveRoom("r1")
	fc.expectWrite(t, proto.TypeJoinRoom)

	// Server drops the connection; the session must redial and, once
	// re-authenticated, rejoin the room it was viewing.
	fc.Close()
	fc2 := dialer.accept(t)
	handshake(t, s, fc2)
	fc2.expectWrite(t, proto.TypeJoinRoom)

	s.Disconnect()
}

func TestReconnectRetriesThroughFailures(t *testing.T) {
	// Two refused dials, then success.
	dialer := newFakeDialer(2)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
	s.Disconnect()
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := newFakeDialer(100)
	s := newTestSession(dialer, func(o *Options) { o.MaxAttempts = 2 })

	s.Connect()
	waitStatus(t, s, StatusLost)

	// Initial dial plus two retries.
	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}

	// Lost is terminal until Connect is called again.
	time.Sleep(30 * time.Millisecond)
	if got := dialer.dialCount(); got != 3 {
		t.Fatalf("session kept dialing after giving up: %d dials", got)
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	s.Disconnect()
	waitStatus(t, s, StatusDisconnected)
	time.Sleep(30 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("intentional close must not reconnect, got %d dials", got)
	}
}

func TestSuccessfulOpenResetsBackoff(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	// Drop and reconnect a few times; each redial must happen promptly,
	// which only holds if a successful open reset the attempt counter.
	for i := 0; i < 4; i++ {
		fc.Close()
		fc = dialer.accept(t)
		handshake(t, s, fc)
	}
	s.Disconnect()
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	tempID := s.SendMessage("r1", "hello", "")
	msgs := s.State().Messages("r1")
	if len(msgs) != 1 || !msgs[0].Pending || msgs[0].TempID != tempID {
		t.Fatalf("expected one pending entry, got %+v", msgs)
	}

	// Never confirmed, so the confirm timeout marks it failed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs = s.State().Messages("r1")
		if len(msgs) == 1 && msgs[0].Failed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("unconfirmed message never marked failed: %+v", msgs)
}

func TestSendMessageConfirmedByEcho(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)
	s.SetActiveRoom("r1")
	fc.expectWrite(t, proto.TypeJoinRoom)

	tempID := s.SendMessage("r1", "hello", "")
	sent := fc.expectWrite(t, proto.TypeSendMessage)
	if sent.Type != proto.TypeSendMessage {
		t.Fatalf("unexpected write %s", sent.Type)
	}

	fc.push(t, proto.TypeMessage, proto.MessagePayload{
		ID:             "m1",
		RoomID:         "r1",
		SenderID:       "u-self",
		SenderUsername: "self",
		Content:        "hello",
		CreatedAt:      time.Now(),
		TempID:         tempID,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := s.State().Messages("r1")
		if len(msgs) == 1 && msgs[0].ID == "m1" && !msgs[0].Pending && !msgs[0].Failed {
			s.Disconnect()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("optimistic entry never reconciled: %+v", s.State().Messages("r1"))
}

func TestPresenceEventsUpdateState(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)

	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)

	fc.push(t, proto.TypeOnlineUsers, proto.OnlineUsersPayload{UserIDs: []string{"u1", "u2"}})
	fc.push(t, proto.TypeUserOnline, proto.UserOnlinePayload{UserID: "u3", Username: "carol"})
	fc.push(t, proto.TypeUserOffline, proto.UserOfflinePayload{UserID: "u1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		online := s.State().OnlineUsers()
		if len(online) == 2 && online[0] == "u2" && online[1] == "u3" {
			s.Disconnect()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("presence never converged: %v", s.State().OnlineUsers())
}
