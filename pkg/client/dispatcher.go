package client

import (
	"encoding/json"

	"github.com/relaychat/relaychat/pkg/proto"
)

// dispatch routes one inbound event to the local state. Unknown types are
// logged and skipped so new server events never break older clients.
func (s *Session) dispatch(ev proto.Outbound) {
	switch ev.Type {
	case proto.TypeAuthenticated:
		var p proto.AuthenticatedPayload
		if !s.decode(ev, &p) {
			return
		}
		s.handleAuthenticated(p)

	case proto.TypeOnlineUsers:
		var p proto.OnlineUsersPayload
		if s.decode(ev, &p) {
			s.state.setOnline(p.UserIDs)
		}

	case proto.TypeUserOnline:
		var p proto.UserOnlinePayload
		if s.decode(ev, &p) {
			s.state.userOnline(p.UserID)
		}

	case proto.TypeUserOffline:
		var p proto.UserOfflinePayload
		if s.decode(ev, &p) {
			s.state.userOffline(p.UserID)
		}

	case proto.TypeMessage:
		var p proto.MessagePayload
		if s.decode(ev, &p) {
			s.state.Confirm(messageFromPayload(p))
		}

	case proto.TypeTyping:
		var p proto.TypingEventPayload
		if s.decode(ev, &p) {
			s.state.addTyping(p.RoomID, p.UserID, p.Username)
		}

	case proto.TypeStopTyping:
		var p proto.StopTypingEventPayload
		if s.decode(ev, &p) {
			s.state.removeTyping(p.RoomID, p.UserID)
		}

	case proto.TypeRoomCreated, proto.TypeRoomUpdated:
		var p proto.RoomPayload
		if s.decode(ev, &p) {
			s.state.upsertRoom(p)
		}

	case proto.TypeRoomDeleted:
		var p proto.RoomDeletedPayload
		if s.decode(ev, &p) {
			s.handleRoomDeleted(p.RoomID)
		}

	case proto.TypeRoomJoined, proto.TypeRoomLeft:
		s.log.Debug().Str("type", ev.Type).Msg("room membership acknowledged")

	case proto.TypeError:
		var p proto.ErrorPayload
		if s.decode(ev, &p) {
			s.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("server error")
		}

	default:
		s.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
	}

	if s.opts.Handler != nil {
		s.opts.Handler(ev)
	}
}

func (s *Session) decode(ev proto.Outbound, dst any) bool {
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Msg("malformed event payload")
		return false
	}
	return true
}

func (s *Session) handleAuthenticated(p proto.AuthenticatedPayload) {
	s.mu.Lock()
	s.status = StatusConnected
	s.selfID = p.UserID
	s.selfName = p.Username
	room := s.activeRoom
	s.mu.Unlock()

	s.log.Info().Str("user_id", p.UserID).Str("username", p.Username).Msg("authenticated")
	if room != "" {
		s.send(proto.TypeJoinRoom, proto.JoinRoomPayload{RoomID: room})
	}
}

func (s *Session) handleRoomDeleted(roomID string) {
	s.state.removeRoom(roomID)

	s.mu.Lock()
	wasActive := s.activeRoom == roomID
	if wasActive {
		s.activeRoom = ""
		s.typingActive = false
		s.stopTypingTimerLocked()
	}
	s.mu.Unlock()

	if wasActive {
		s.log.Info().Str("room_id", roomID).Msg("active room deleted")
	}
}
