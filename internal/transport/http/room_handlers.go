package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/core"
	"github.com/relaychat/relaychat/internal/store"
	"github.com/relaychat/relaychat/pkg/proto"
)

// RoomHandlers provides HTTP handlers for room management. Lifecycle changes
// are pushed to affected participants' live connections through the hub.
type RoomHandlers struct {
	store store.Store
	hub   *core.Hub
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, hub *core.Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{store: st, hub: hub, log: logger}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name           string   `json:"name"`
	Type           string   `json:"type" binding:"required"`
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1"`
}

func roomPayload(r *store.Room) proto.RoomPayload {
	participants := make([]proto.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, proto.Participant{ID: p.ID, Username: p.Username})
	}
	return proto.RoomPayload{
		ID:           r.ID,
		Name:         r.Name,
		Type:         string(r.Type),
		Participants: participants,
		CreatedAt:    r.CreatedAt,
	}
}

// CreateRoom handles room creation. Private rooms hold exactly two
// participants and deduplicate per pair; group rooms need a name and at
// least two participants.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	typ := store.RoomType(req.Type)
	if typ != store.RoomTypePrivate && typ != store.RoomTypeGroup {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "type must be 'private' or 'group'"})
		return
	}

	// Caller is always a participant; dedupe ids.
	seen := map[string]struct{}{userID: {}}
	participants := []string{userID}
	for _, id := range req.ParticipantIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}

	ctx := c.Request.Context()
	name := strings.TrimSpace(req.Name)

	switch typ {
	case store.RoomTypePrivate:
		if len(participants) != 2 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "private room must have exactly 2 participants"})
			return
		}
		if existing, err := h.store.FindPrivateRoom(ctx, participants[0], participants[1]); err == nil {
			c.JSON(http.StatusOK, roomPayload(existing))
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			h.log.Error().Err(err).Msg("find private room failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		// Private rooms are named after the pair.
		self, err := h.store.UserByID(ctx, participants[0])
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "one or more participant ids are invalid"})
			return
		}
		other, err := h.store.UserByID(ctx, participants[1])
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "one or more participant ids are invalid"})
			return
		}
		name = self.Username + " & " + other.Username
	case store.RoomTypeGroup:
		if name == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "group room name is required"})
			return
		}
		if len(participants) < 2 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "group must have at least 2 participants"})
			return
		}
	}

	valid, err := h.store.UsersExist(ctx, participants)
	if err != nil {
		h.log.Error().Err(err).Msg("validate participants failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "one or more participant ids are invalid"})
		return
	}

	room, err := h.store.CreateRoom(ctx, name, typ, participants)
	if err != nil {
		h.log.Error().Err(err).Str("room_name", name).Msg("create room failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// The creator gets the room from the response; the rest are notified live.
	payload := roomPayload(room)
	for _, p := range room.Participants {
		if p.ID != userID {
			h.hub.NotifyUser(p.ID, proto.NewOutbound(proto.TypeRoomCreated, payload))
		}
	}

	h.log.Info().Str("room_id", room.ID).Str("room_name", room.Name).Msg("room created")
	c.JSON(http.StatusCreated, payload)
}

// ListRooms returns the caller's rooms, newest first.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	rooms, err := h.store.RoomsForUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list rooms failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	payloads := make([]proto.RoomPayload, 0, len(rooms))
	for _, r := range rooms {
		payloads = append(payloads, roomPayload(r))
	}
	c.JSON(http.StatusOK, payloads)
}

// GetRoom returns one room; participants only.
// GET /api/rooms/:roomId
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	room, err := h.store.RoomByID(c.Request.Context(), c.Param("roomId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("get room failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if !isParticipant(room, userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	}

	c.JSON(http.StatusOK, roomPayload(room))
}

// LeaveRoom removes the caller from the room's durable participant list.
// If fewer than two participants remain, the room is deleted and the
// remainder notified; otherwise the remaining participants get the updated
// room snapshot.
// POST /api/rooms/:roomId/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("roomId")

	room, err := h.store.RoomByID(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("leave room failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !isParticipant(room, userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "you are not a member of this room"})
		return
	}

	if err := h.store.RemoveParticipant(ctx, roomID, userID); err != nil {
		h.log.Error().Err(err).Msg("remove participant failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	remaining := make([]store.Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p.ID != userID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) < 2 {
		for _, p := range remaining {
			h.hub.NotifyUser(p.ID, proto.NewOutbound(proto.TypeRoomDeleted,
				proto.RoomDeletedPayload{RoomID: roomID}))
		}
		if err := h.store.DeleteRoom(ctx, roomID); err != nil {
			h.log.Error().Err(err).Msg("delete room failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "left and room deleted"})
		return
	}

	updated, err := h.store.RoomByID(ctx, roomID)
	if err != nil {
		h.log.Error().Err(err).Msg("reload room failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	payload := roomPayload(updated)
	for _, p := range updated.Participants {
		h.hub.NotifyUser(p.ID, proto.NewOutbound(proto.TypeRoomUpdated, payload))
	}
	c.JSON(http.StatusOK, gin.H{"message": "left room successfully"})
}

func isParticipant(room *store.Room, userID string) bool {
	for _, p := range room.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
