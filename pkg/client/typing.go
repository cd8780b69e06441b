package client

import (
	"time"

	"github.com/relaychat/relaychat/pkg/proto"
)

// InputChanged signals a keystroke in the active room's composer. The first
// call emits start-typing; each call pushes the idle deadline out, and once
// it expires stop-typing is emitted. Sending a message or switching rooms
// ends the typing state immediately.
func (s *Session) InputChanged() {
	s.mu.Lock()
	room := s.activeRoom
	if room == "" {
		s.mu.Unlock()
		return
	}
	start := !s.typingActive
	s.typingActive = true
	s.stopTypingTimerLocked()
	s.typingTimer = time.AfterFunc(s.opts.TypingIdle, func() {
		s.typingIdle(room)
	})
	s.mu.Unlock()

	if start {
		s.send(proto.TypeStartTyping, proto.TypingPayload{RoomID: room})
	}
}

// InputCleared ends the typing state right away, for the moment the composer
// is emptied or its content is sent.
func (s *Session) InputCleared() {
	s.mu.Lock()
	room := s.activeRoom
	active := s.typingActive
	s.typingActive = false
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	if active && room != "" {
		s.send(proto.TypeStopTyping, proto.TypingPayload{RoomID: room})
	}
}

func (s *Session) typingIdle(room string) {
	s.mu.Lock()
	if !s.typingActive || s.activeRoom != room {
		s.mu.Unlock()
		return
	}
	s.typingActive = false
	s.typingTimer = nil
	s.mu.Unlock()

	s.send(proto.TypeStopTyping, proto.TypingPayload{RoomID: room})
}

// stopTypingTimerLocked stops a pending idle timer. Caller holds s.mu.
func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}
