// Package app wires together the store, auth, realtime core and transport
// layers.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaychat/relaychat/internal/auth"
	"github.com/relaychat/relaychat/internal/config"
	"github.com/relaychat/relaychat/internal/core"
	"github.com/relaychat/relaychat/internal/store"
	"github.com/relaychat/relaychat/internal/store/sqlite"
	transporthttp "github.com/relaychat/relaychat/internal/transport/http"
)

// App owns the HTTP server, the hub and the store.
type App struct {
	server            *stdhttp.Server
	shutdownTimeout   time.Duration
	heartbeatInterval time.Duration
	hub               *core.Hub
	store             store.Store
	log               *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(authService, st, logger)
	if cfg.MaxMessageLen > 0 {
		hub.MaxMessageLen = cfg.MaxMessageLen
	}

	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:            server,
		shutdownTimeout:   cfg.ShutdownTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		hub:               hub,
		store:             st,
		log:               logger,
	}, nil
}

// Run starts the HTTP server and the liveness reaper, and blocks until
// context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go a.hub.RunReaper(reaperCtx, a.heartbeatInterval)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
