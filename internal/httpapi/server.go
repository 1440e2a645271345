// Package httpapi exposes the query and ingestion surfaces over HTTP.
//
// Caller identity arrives as verified headers set by the external
// identity collaborator; this layer does not authenticate.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/navigatord/internal/assistant"
	"github.com/fyrsmithlabs/navigatord/internal/ingest"
)

// Header names carrying verified caller identity.
const (
	HeaderRole     = "X-Caller-Role"
	HeaderLanguage = "X-Caller-Language"
)

// Config holds HTTP server settings.
type Config struct {
	// Port to listen on. Default: 8080
	Port int

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP boundary over the assistant and the ingestion
// pipeline.
type Server struct {
	config    Config
	echo      *echo.Echo
	assistant *assistant.Service
	pipeline  *ingest.Pipeline
	metrics   *Metrics
	logger    *zap.Logger
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(config Config, svc *assistant.Service, pipeline *ingest.Pipeline, registry *prometheus.Registry, logger *zap.Logger) (*Server, error) {
	config.ApplyDefaults()
	if svc == nil || pipeline == nil {
		return nil, errors.New("assistant service and ingest pipeline are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		config:    config,
		echo:      e,
		assistant: svc,
		pipeline:  pipeline,
		metrics:   NewMetrics(registry),
		logger:    logger,
	}
	s.registerRoutes(registry)
	return s, nil
}

func (s *Server) registerRoutes(registry *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents/:id/status", s.handleDocumentStatus)
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}

// HealthResponse is the JSON body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "navigatord",
	})
}

// Echo returns the underlying Echo instance, for tests and extensions.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}
