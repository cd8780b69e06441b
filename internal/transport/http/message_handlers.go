package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/store"
	"github.com/relaychat/relaychat/pkg/proto"
)

// MessageHandlers serves paginated message history. Live delivery happens
// over the WebSocket; this endpoint is how clients catch up.
type MessageHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{store: st, log: logger}
}

// HistoryResponse is one page of room history, oldest-first.
type HistoryResponse struct {
	Messages []proto.MessagePayload `json:"messages"`
	HasMore  bool                   `json:"hasMore"`
	Page     int                    `json:"page"`
}

// History returns one page of a room's message history.
// GET /api/rooms/:roomId/messages?page=&limit=
func (h *MessageHandlers) History(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID := c.Param("roomId")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	ctx := c.Request.Context()
	if err := h.store.CheckRoomAccess(ctx, roomID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		case errors.Is(err, store.ErrNotParticipant):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		default:
			h.log.Error().Err(err).Msg("room access check failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	messages, hasMore, err := h.store.MessagesPage(ctx, roomID, page, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("load history failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	payloads := make([]proto.MessagePayload, 0, len(messages))
	for _, m := range messages {
		payloads = append(payloads, proto.MessagePayload{
			ID:             m.ID,
			RoomID:         m.RoomID,
			SenderID:       m.SenderID,
			SenderUsername: m.SenderUsername,
			Content:        m.Content,
			ImageURL:       m.ImageURL,
			CreatedAt:      m.CreatedAt,
		})
	}

	if page < 1 {
		page = 1
	}
	c.JSON(http.StatusOK, HistoryResponse{Messages: payloads, HasMore: hasMore, Page: page})
}
