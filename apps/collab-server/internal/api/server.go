// Package api exposes the collaboration service over HTTP: health and
// metrics endpoints, read-only session views, explicit saves and the
// WebSocket event channel.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/qamatch/collab/apps/collab-server/internal/api/websocket"
	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/config"
	"github.com/qamatch/collab/pkg/observability"
	"github.com/qamatch/collab/pkg/storage"
)

// Dependencies are the components the HTTP server routes to
type Dependencies struct {
	Coordinator *collaboration.Coordinator
	// WebSocket serves /ws when set
	WebSocket *websocket.Server
	// Contents is checked by /health when set
	Contents storage.ContentStore
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
	Logger         observability.Logger
	Metrics        observability.MetricsClient
}

// Server is the HTTP front of the collaboration service
type Server struct {
	router *gin.Engine
	server *http.Server

	coordinator *collaboration.Coordinator
	ws          *websocket.Server
	health      *HealthChecker
	logger      observability.Logger
	metrics     observability.MetricsClient
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg config.APIConfig, deps Dependencies) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()
	router.Use(Recovery(deps.Logger))
	router.Use(RequestID())
	router.Use(RequestLogger(deps.Logger, deps.Metrics))

	s := &Server{
		router:      router,
		coordinator: deps.Coordinator,
		ws:          deps.WebSocket,
		health:      NewHealthChecker(),
		logger:      deps.Logger.WithPrefix("api"),
		metrics:     deps.Metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
	if deps.Contents != nil {
		s.health.RegisterCheck("storage", deps.Contents.Health)
	}

	s.setupRoutes(deps.MetricsHandler)
	return s, nil
}

func (s *Server) setupRoutes(metricsHandler http.Handler) {
	s.router.GET("/health", s.healthHandler)
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	if s.ws != nil {
		s.router.GET("/ws", gin.WrapF(s.ws.HandleWebSocket))
	}

	v1 := s.router.Group("/api/v1")
	sessions := v1.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.GET("/:id", s.getSession)
	sessions.GET("/:id/history", s.getHistory)
	sessions.POST("/:id/save", s.saveSession)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Health exposes the health checker so callers can register checks
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start listens until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown closes the WebSocket connections and drains HTTP requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ws != nil {
		s.ws.Close()
	}
	return s.server.Shutdown(ctx)
}
