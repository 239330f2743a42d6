// Package http exposes the REST surface and the realtime upgrade endpoint.
package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/auth"
	"github.com/sonu-tech-hub/mychat-rtc/internal/config"
	"github.com/sonu-tech-hub/mychat-rtc/internal/delivery"
	"github.com/sonu-tech-hub/mychat-rtc/internal/gateway"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

// NewServer builds the HTTP server: health probe, auth endpoints, message
// history, and the WebSocket upgrade route handled by the gateway.
func NewServer(cfg config.Config, authService *auth.Service, gw *gateway.Gateway, messaging *delivery.Service, st store.Store, logger *zerolog.Logger) (*stdhttp.Server, func()) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(authService, messaging, st, logger)

	limiter := newRateLimiter(cfg.AuthRateLimit)
	stop := make(chan struct{})
	limiter.startReset(stop)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	authGroup := router.Group("/api/auth")
	authGroup.Use(rateLimitMiddleware(limiter))
	authGroup.POST("/register", api.Register)
	authGroup.POST("/login", api.Login)

	protected := router.Group("/api")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/me", api.Me)
	protected.GET("/messages", api.Messages)

	router.GET("/ws", func(c *gin.Context) {
		gw.ServeWS(c.Writer, c.Request)
	})

	srv := &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return srv, func() { close(stop) }
}
