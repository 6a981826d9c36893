// Package server is the broker's HTTP front: the login and session
// bootstrap endpoints, the websocket accept path, and the operational
// endpoints (metrics, health probes).
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/bus"
	"github.com/atelierhq/atelier/internal/v1/config"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/health"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/middleware"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/room"
)

const serviceName = "atelier-broker"

// shutdownGrace bounds how long Run waits for rooms and in-flight HTTP
// requests once its context is cancelled.
const shutdownGrace = 30 * time.Second

// Broker bundles the process state behind the HTTP front. No package
// globals: tests build as many brokers as they like.
type Broker struct {
	cfg      *config.Config
	creds    *credentials.Service
	relay    *relay.Relay
	rooms    *room.Manager
	events   *bus.Service
	upgrader websocket.Upgrader
}

// New assembles a broker front over already-constructed subsystems.
func New(cfg *config.Config, creds *credentials.Service, rly *relay.Relay, rooms *room.Manager, events *bus.Service) *Broker {
	b := &Broker{
		cfg:    cfg,
		creds:  creds,
		relay:  rly,
		rooms:  rooms,
		events: events,
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

// checkOrigin admits non-browser clients (no Origin header) and any origin
// matching the configured list. "*" admits everything.
func (b *Broker) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if b.cfg.AllowedOrigins == "*" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range strings.Split(b.cfg.AllowedOrigins, ",") {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	logging.Warn(r.Context(), "origin not allowed", zap.String("origin", origin))
	return false
}

// Router mounts every route on a fresh gin engine.
func (b *Broker) Router() *gin.Engine {
	if !b.cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if b.cfg.TracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	corsCfg := cors.DefaultConfig()
	if b.cfg.AllowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(b.cfg.AllowedOrigins, ",")
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "x-jwt", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsCfg))

	api := router.Group("/api")
	{
		api.POST("/login/url", b.handleLoginURL)
		api.POST("/login/confirm/:token", b.handleLoginConfirm)
		api.POST("/login/simple", b.handleLoginSimple)
		api.POST("/login/validate", b.handleLoginValidate)
		api.POST("/session/create", b.handleSessionCreate)
		api.POST("/session/join/:room", b.handleSessionJoin)
	}

	router.GET("/ws", b.handleSocket)
	router.GET("/login", b.handleLoginPage)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	healthHandler := health.NewHandler(b.events)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully: rooms
// first so peers see their close envelopes, then the listener.
func (b *Broker) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              b.cfg.Addr(),
		Handler:           b.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "broker listening", zap.String("addr", b.cfg.Addr()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := b.rooms.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "room shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "server forced to shut down", zap.Error(err))
		return err
	}
	logging.Info(shutdownCtx, "broker stopped")
	return nil
}
