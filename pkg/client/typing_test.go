package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/relaychat/relaychat/pkg/proto"
)

func typingSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)
	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)
	s.SetActiveRoom("r1")
	fc.expectWrite(t, proto.TypeJoinRoom)
	return s, fc
}

func TestTypingStartsOnceAndStopsOnIdle(t *testing.T) {
	s, fc := typingSession(t)
	defer s.Disconnect()

	s.InputChanged()
	ev := fc.expectWrite(t, proto.TypeStartTyping)
	var p proto.TypingPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.RoomID != "r1" {
		t.Fatalf("unexpected start typing payload %s (%v)", ev.Payload, err)
	}

	// Further keystrokes inside the idle window stay silent.
	s.InputChanged()
	s.InputChanged()
	fc.expectNoWrite(t, 10*time.Millisecond)

	// Idle expiry emits stop typing.
	fc.expectWrite(t, proto.TypeStopTyping)

	// Typing again after the stop restarts the cycle.
	s.InputChanged()
	fc.expectWrite(t, proto.TypeStartTyping)
}

func TestKeystrokesExtendIdleWindow(t *testing.T) {
	s, fc := typingSession(t)
	defer s.Disconnect()

	s.InputChanged()
	fc.expectWrite(t, proto.TypeStartTyping)

	// Keep typing at a rate faster than the idle window; stop must not fire.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		s.InputChanged()
	}
	fc.expectNoWrite(t, 10*time.Millisecond)

	fc.expectWrite(t, proto.TypeStopTyping)
}

func TestInputClearedStopsImmediately(t *testing.T) {
	s, fc := typingSession(t)
	defer s.Disconnect()

	s.InputChanged()
	fc.expectWrite(t, proto.TypeStartTyping)

	s.InputCleared()
	fc.expectWrite(t, proto.TypeStopTyping)

	// Cleared twice is a no-op.
	s.InputCleared()
	fc.expectNoWrite(t, 10*time.Millisecond)
}

func TestRoomSwitchFlushesTyping(t *testing.T) {
	s, fc := typingSession(t)
	defer s.Disconnect()

	s.InputChanged()
	fc.expectWrite(t, proto.TypeStartTyping)

	s.SetActiveRoom("r2")
	stop := fc.expectWrite(t, proto.TypeStopTyping)
	var p proto.TypingPayload
	if err := json.Unmarshal(stop.Payload, &p); err != nil || p.RoomID != "r1" {
		t.Fatalf("stop typing must target the old room, got %s (%v)", stop.Payload, err)
	}
	fc.expectWrite(t, proto.TypeLeaveRoom)
	fc.expectWrite(t, proto.TypeJoinRoom)

	// The idle timer for the old room must not fire after the switch.
	fc.expectNoWrite(t, 50*time.Millisecond)
}

func TestSendMessageEndsTyping(t *testing.T) {
	s, fc := typingSession(t)
	defer s.Disconnect()

	s.InputChanged()
	fc.expectWrite(t, proto.TypeStartTyping)

	s.SendMessage("r1", "hello", "")
	fc.expectWrite(t, proto.TypeSendMessage)
	fc.expectWrite(t, proto.TypeStopTyping)
}

func TestInputChangedWithoutActiveRoom(t *testing.T) {
	dialer := newFakeDialer(0)
	s := newTestSession(dialer, nil)
	s.Connect()
	fc := dialer.accept(t)
	handshake(t, s, fc)
	defer s.Disconnect()

	s.InputChanged()
	fc.expectNoWrite(t, 15*time.Millisecond)
}
