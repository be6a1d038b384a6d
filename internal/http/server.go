// Package http provides the HTTP server, its router and shared middleware.
package http

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/allisson/hookrelay/internal/config"
	"github.com/allisson/hookrelay/internal/metrics"
	webhookHTTP "github.com/allisson/hookrelay/internal/webhook/http"
)

// Server is the API server.
type Server struct {
	db     *sql.DB
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new API server. Call SetupRouter before Start.
func NewServer(db *sql.DB, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter registers middleware and routes. ctx bounds background work started by middleware.
func (s *Server) SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	eventHandler *webhookHTTP.EventHandler,
	notificationHandler *webhookHTTP.NotificationHandler,
	circuitBreakerHandler *webhookHTTP.CircuitBreakerHandler,
	meterProvider metric.MeterProvider,
	metricsNamespace string,
) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if meterProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(meterProvider, metricsNamespace))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	{
		events := v1.Group("/events")
		if cfg.RateLimitIngestEnabled {
			events.Use(webhookHTTP.IngestRateLimitMiddleware(
				ctx,
				cfg.RateLimitIngestRequestsPerSec,
				cfg.RateLimitIngestBurst,
				s.logger,
			))
		}
		events.POST("", eventHandler.IngestHandler)

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", notificationHandler.ListHandler)
			notifications.GET("/stats", notificationHandler.StatsHandler)
			notifications.GET("/:id", notificationHandler.GetHandler)
			notifications.POST("/:id/redeliver", notificationHandler.RedeliverHandler)
		}

		v1.DELETE("/subscriptions/:id/notifications", notificationHandler.DeleteForSubscriptionHandler)

		admin := v1.Group("/admin")
		{
			admin.GET("/circuit-breakers", circuitBreakerHandler.ListHandler)
			admin.POST("/circuit-breakers/reset", circuitBreakerHandler.ResetHandler)
		}
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

// Start serves requests until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return errors.New("router is not configured")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.db.PingContext(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": gin.H{"database": "error"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": gin.H{"database": "ok"},
	})
}
