package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/store"
	"github.com/relaychat/relaychat/pkg/proto"
)

// TokenVerifier is the externally-issued token collaborator.
type TokenVerifier interface {
	VerifyToken(token string) (userID, username string, err error)
}

// Persistence is the durable-storage collaborator the hub depends on.
// CheckRoomAccess answers "does the room exist and is the user a persisted
// participant": nil on success, store.ErrRoomNotFound or
// store.ErrNotParticipant on the respective failures. SaveMessage durably
// stores a message and returns the assigned id and creation time.
type Persistence interface {
	CheckRoomAccess(ctx context.Context, roomID, userID string) error
	SaveMessage(ctx context.Context, roomID, senderID, content, imageURL string) (id string, createdAt time.Time, err error)
}

const defaultMaxMessageLen = 5000

// Hub validates and routes inbound events, owns the presence, membership and
// typing registries, and fans confirmed events out to the right connections.
// Handlers for different connections run concurrently; each registry guards
// its own state.
type Hub struct {
	log         *zerolog.Logger
	verifier    TokenVerifier
	persistence Persistence

	// MaxMessageLen caps message content length in runes. Set before serving.
	MaxMessageLen int

	mu    sync.Mutex
	conns map[*Conn]struct{}

	presence *presenceRegistry
	rooms    *membershipTracker
	typing   *typingRegistry
}

// NewHub constructs a hub with empty registries.
func NewHub(verifier TokenVerifier, persistence Persistence, logger *zerolog.Logger) *Hub {
	return &Hub{
		log:           logger,
		verifier:      verifier,
		persistence:   persistence,
		MaxMessageLen: defaultMaxMessageLen,
		conns:         make(map[*Conn]struct{}),
		presence:      newPresenceRegistry(),
		rooms:         newMembershipTracker(),
		typing:        newTypingRegistry(),
	}
}

// Attach starts tracking a freshly accepted connection for liveness.
func (h *Hub) Attach(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// Detach runs the full disconnect cleanup path. Safe to call for connections
// that never authenticated. If this was the user's last connection, the user
// is cleared from every room and typing set, affected rooms are told the user
// stopped typing, and exactly one USER_OFFLINE is broadcast.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	userID, _, ok := c.Identity()
	if !ok {
		return
	}

	offline := h.presence.unregister(userID, c)
	if !offline {
		return
	}

	typingRooms := h.typing.clearUser(userID)
	h.rooms.removeUser(userID)

	for _, roomID := range typingRooms {
		h.broadcastRoom(roomID, proto.NewOutbound(proto.TypeStopTyping,
			proto.StopTypingEventPayload{RoomID: roomID, UserID: userID}), userID)
	}

	h.broadcastAll(proto.NewOutbound(proto.TypeUserOffline,
		proto.UserOfflinePayload{UserID: userID}), userID)
	h.log.Info().Str("user_id", userID).Msg("user offline")
}

// HandleInbound validates and dispatches one inbound event for a connection.
// A non-nil return means the connection must be closed; every other failure
// is reported to the client as an ERROR event and the connection stays open.
func (h *Hub) HandleInbound(ctx context.Context, c *Conn, in proto.Inbound) error {
	if in.Type == "" {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "missing event type"))
		return nil
	}

	if !c.Authenticated() && in.Type != proto.TypeAuthenticate {
		c.Send(proto.ErrorEvent(ErrCodeUnauthorized, "not authenticated"))
		return nil
	}

	switch in.Type {
	case proto.TypeAuthenticate:
		return h.handleAuthenticate(c, in.Payload)
	case proto.TypeJoinRoom:
		h.handleJoinRoom(ctx, c, in.Payload)
	case proto.TypeLeaveRoom:
		h.handleLeaveRoom(c, in.Payload)
	case proto.TypeSendMessage:
		h.handleSendMessage(ctx, c, in.Payload)
	case proto.TypeStartTyping:
		h.handleStartTyping(c, in.Payload)
	case proto.TypeStopTyping:
		h.handleStopTyping(c, in.Payload)
	default:
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "unknown event type"))
	}
	return nil
}

func (h *Hub) handleAuthenticate(c *Conn, raw json.RawMessage) error {
	var p proto.AuthenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		c.Send(proto.ErrorEvent(ErrCodeUnauthorized, "token is required"))
		return ErrAuthFailed
	}

	userID, username, err := h.verifier.VerifyToken(p.Token)
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", c.ID()).Msg("token verification failed")
		c.Send(proto.ErrorEvent(ErrCodeUnauthorized, "authentication failed"))
		return ErrAuthFailed
	}

	if existingID, _, ok := c.Identity(); ok && existingID != userID {
		// Re-authenticating as the same user is an idempotent re-register;
		// switching identity on a live connection is not allowed.
		c.Send(proto.ErrorEvent(ErrCodeForbidden, "connection already authenticated"))
		return nil
	}

	c.setIdentity(userID, username)
	first := h.presence.register(userID, c)
	if first {
		h.broadcastAll(proto.NewOutbound(proto.TypeUserOnline,
			proto.UserOnlinePayload{UserID: userID, Username: username}), userID)
		h.log.Info().Str("user_id", userID).Str("username", username).Msg("user online")
	}

	c.Send(proto.NewOutbound(proto.TypeAuthenticated,
		proto.AuthenticatedPayload{UserID: userID, Username: username}))
	c.Send(proto.NewOutbound(proto.TypeOnlineUsers,
		proto.OnlineUsersPayload{UserIDs: h.presence.onlineUserIDs()}))
	return nil
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Conn, raw json.RawMessage) {
	var p proto.JoinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "roomId is required"))
		return
	}
	userID, username, _ := c.Identity()

	if err := h.persistence.CheckRoomAccess(ctx, p.RoomID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			c.Send(proto.ErrorEvent(ErrCodeRoomNotFound, "room not found"))
		case errors.Is(err, store.ErrNotParticipant):
			c.Send(proto.ErrorEvent(ErrCodeForbidden, "access denied"))
		default:
			h.log.Error().Err(err).Str("room_id", p.RoomID).Msg("room access check failed")
			c.Send(proto.ErrorEvent(ErrCodeInternal, "failed to join room"))
		}
		return
	}

	h.rooms.join(p.RoomID, userID)
	c.Send(proto.NewOutbound(proto.TypeRoomJoined, proto.RoomJoinedPayload{RoomID: p.RoomID}))
	h.log.Debug().Str("room_id", p.RoomID).Str("username", username).Msg("joined room")
}

func (h *Hub) handleLeaveRoom(c *Conn, raw json.RawMessage) {
	var p proto.LeaveRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "roomId is required"))
		return
	}
	userID, _, _ := c.Identity()

	h.rooms.leave(p.RoomID, userID)
	c.Send(proto.NewOutbound(proto.TypeRoomLeft, proto.RoomLeftPayload{RoomID: p.RoomID}))
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Conn, raw json.RawMessage) {
	var p proto.SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "roomId is required"))
		return
	}

	content := strings.TrimSpace(p.Content)
	if content == "" && p.ImageURL == "" {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "content or imageUrl is required"))
		return
	}
	if utf8.RuneCountInString(content) > h.MaxMessageLen {
		c.Send(proto.ErrorEvent(ErrCodeBadRequest, "message too long"))
		return
	}

	userID, username, _ := c.Identity()
	// Stricter than participant-ship: the sender must be actively viewing the
	// room in this session.
	if !h.rooms.isMember(p.RoomID, userID) {
		c.Send(proto.ErrorEvent(ErrCodeNotJoined, "join the room first"))
		return
	}

	id, createdAt, err := h.persistence.SaveMessage(ctx, p.RoomID, userID, content, p.ImageURL)
	if err != nil {
		// Never fan out a message that failed to persist.
		h.log.Error().Err(err).Str("room_id", p.RoomID).Msg("persist message failed")
		c.Send(proto.ErrorEvent(ErrCodeInternal, "failed to send message"))
		return
	}

	// Broadcast to every currently joined member, sender included, so the
	// sender's optimistic entry can be reconciled via the correlation token.
	h.broadcastRoom(p.RoomID, proto.NewOutbound(proto.TypeMessage, proto.MessagePayload{
		ID:             id,
		RoomID:         p.RoomID,
		SenderID:       userID,
		SenderUsername: username,
		Content:        content,
		ImageURL:       p.ImageURL,
		CreatedAt:      createdAt,
		TempID:         p.TempID,
	}), "")
}

func (h *Hub) handleStartTyping(c *Conn, raw json.RawMessage) {
	var p proto.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		return
	}
	userID, username, _ := c.Identity()
	if !h.rooms.isMember(p.RoomID, userID) {
		return
	}

	h.typing.start(p.RoomID, userID, username)
	h.broadcastRoom(p.RoomID, proto.NewOutbound(proto.TypeTyping,
		proto.TypingEventPayload{RoomID: p.RoomID, UserID: userID, Username: username}), userID)
}

func (h *Hub) handleStopTyping(c *Conn, raw json.RawMessage) {
	var p proto.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		return
	}
	userID, _, _ := c.Identity()

	h.typing.stop(p.RoomID, userID)
	h.broadcastRoom(p.RoomID, proto.NewOutbound(proto.TypeStopTyping,
		proto.StopTypingEventPayload{RoomID: p.RoomID, UserID: userID}), userID)
}

// NotifyUser delivers an event to every live connection of one user. Used by
// the REST layer to push room lifecycle events to participants.
func (h *Hub) NotifyUser(userID string, ev proto.Outbound) {
	for _, c := range h.presence.connsFor(userID) {
		c.Send(ev)
	}
}

// OnlineUserIDs returns a snapshot of users with at least one live connection.
func (h *Hub) OnlineUserIDs() []string {
	return h.presence.onlineUserIDs()
}

func (h *Hub) broadcastAll(ev proto.Outbound, excludeUserID string) {
	for _, userID := range h.presence.onlineUserIDs() {
		if userID == excludeUserID {
			continue
		}
		for _, c := range h.presence.connsFor(userID) {
			c.Send(ev)
		}
	}
}

func (h *Hub) broadcastRoom(roomID string, ev proto.Outbound, excludeUserID string) {
	for _, userID := range h.rooms.members(roomID) {
		if userID == excludeUserID {
			continue
		}
		for _, c := range h.presence.connsFor(userID) {
			c.Send(ev)
		}
	}
}

// RunReaper sweeps tracked connections at the given interval until the
// context is cancelled. A connection whose liveness flag is still down from
// the previous sweep is forcibly terminated; otherwise the flag is lowered
// and a probe is requested. Stale presence is therefore bounded by two
// intervals.
func (h *Hub) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.swapAlive(false) {
			h.log.Warn().Str("conn_id", c.ID()).Msg("terminating dead connection")
			c.Terminate()
			continue
		}
		c.requestProbe()
	}
}
