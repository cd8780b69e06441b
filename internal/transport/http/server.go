// Package http exposes the REST collaborator surface and the WebSocket
// endpoint that bridges connections into the realtime core.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/auth"
	"github.com/relaychat/relaychat/internal/config"
	"github.com/relaychat/relaychat/internal/core"
	"github.com/relaychat/relaychat/internal/store"
)

// ErrorResponse is the JSON error body for REST endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the HTTP server with all routes wired.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, logger)))

	authHandlers := NewAuthHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, hub, logger)
	messageHandlers := NewMessageHandlers(st, logger)

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandlers.Register)
		api.POST("/auth/login", authHandlers.Login)

		protected := api.Group("", AuthMiddleware(authService, logger))
		{
			protected.GET("/rooms", roomHandlers.ListRooms)
			protected.POST("/rooms", roomHandlers.CreateRoom)
			protected.GET("/rooms/:roomId", roomHandlers.GetRoom)
			protected.POST("/rooms/:roomId/leave", roomHandlers.LeaveRoom)
			protected.GET("/rooms/:roomId/messages", messageHandlers.History)
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
