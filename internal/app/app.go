package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	relay           *core.Relay
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	var st store.Store
	if cfg.DatabasePath != "" {
		s, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = s
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("user directory initialized")
	}

	// A decoded text is never longer than its frame, so every frame the transport
	// accepts fits the relay's text bound.
	relay := core.NewRelay(core.NewRegistry(), logger, core.WithMaxTextLength(int(cfg.MaxMessageBytes)))
	server := transporthttp.NewServer(relay, newResolver(cfg, st), cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		relay:           relay,
		store:           st,
		log:             logger,
	}, nil
}

func newResolver(cfg *config.Config, st store.Store) auth.IdentityResolver {
	if cfg.JWTSecret == "" {
		return auth.Anonymous{}
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	var users store.UserDirectory
	if st != nil {
		users = st
	}
	return auth.NewJWTResolver(jwtConfig, users, cfg.JWTRequired)
}

// Handler exposes the HTTP handler, for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Relay exposes the message relay.
func (a *App) Relay() *core.Relay {
	return a.relay
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.relay.Close()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown; closing the
		// relay ends them.
		a.relay.Close()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
