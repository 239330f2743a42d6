// Package app wires together storage, services, the realtime gateway and the
// HTTP transport.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/auth"
	"github.com/sonu-tech-hub/mychat-rtc/internal/callrelay"
	"github.com/sonu-tech-hub/mychat-rtc/internal/config"
	"github.com/sonu-tech-hub/mychat-rtc/internal/delivery"
	"github.com/sonu-tech-hub/mychat-rtc/internal/gateway"
	"github.com/sonu-tech-hub/mychat-rtc/internal/log"
	"github.com/sonu-tech-hub/mychat-rtc/internal/presence"
	"github.com/sonu-tech-hub/mychat-rtc/internal/push"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store/sqlite"
	transporthttp "github.com/sonu-tech-hub/mychat-rtc/internal/transport/http"
)

// App owns the long-lived pieces of the server process.
type App struct {
	server          *stdhttp.Server
	stopLimiter     func()
	shutdownTimeout time.Duration
	gateway         *gateway.Gateway
	pushQueue       *push.Queue
	store           store.Store
	log             *zerolog.Logger
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
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	registry := presence.NewRegistry()
	pushQueue := push.NewQueue(&push.LogSender{Log: log.Component(logger, "push")}, cfg.PushQueueSize, log.Component(logger, "push"))

	gw := gateway.New(registry, authService, st, log.Component(logger, "gateway"))
	messaging := delivery.NewService(st, registry, gw, pushQueue, log.Component(logger, "delivery"))
	calls := callrelay.NewService(st, registry, gw, pushQueue, log.Component(logger, "callrelay"))
	gw.Attach(messaging, calls)

	server, stopLimiter := transporthttp.NewServer(cfg, authService, gw, messaging, st, log.Component(logger, "http"))

	return &App{
		server:          server,
		stopLimiter:     stopLimiter,
		shutdownTimeout: cfg.ShutdownTimeout,
		gateway:         gw,
		pushQueue:       pushQueue,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.pushQueue.Run(ctx)

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
		a.gateway.Shutdown()
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
	a.stopLimiter()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
