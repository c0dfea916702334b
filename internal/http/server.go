// Package http serves the ctxpack HTTP API and provides a client for it.
//
// The server exposes two groups of routes. /api/v1/contexts is the context
// backend API; Client implements backend.Backend on top of it, so one
// ctxpack process can build contexts for another. /api/v1/workspace drives
// the open project's selection and assembly pipeline. Both are thin
// adapters with no selection or assembly logic of their own.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64
	RateBurst int
}

// Server provides the HTTP API.
type Server struct {
	echo      *echo.Echo
	backend   backend.Backend
	workspace *workspace.Workspace
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
	log       *logging.Logger
	config    Config
	version   string
}

// Option configures a Server.
type Option func(*Server)

// WithWorkspace enables the /api/v1/workspace routes.
func WithWorkspace(ws *workspace.Workspace) Option {
	return func(s *Server) { s.workspace = ws }
}

// WithTelemetry reports telemetry health on the status route.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) { s.telemetry = t }
}

// WithVersion sets the version reported by the status route.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server for b.
func NewServer(b backend.Backend, logger *zap.Logger, cfg Config, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8377
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, backend: b, logger: logger, log: logging.FromZap(logger), config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(s.requestContext(c.Request().Context(), id)))
		},
	}))
	e.Use(s.requestLogger())
	e.Use(metricsMiddleware())
	if cfg.RateLimit > 0 {
		e.Use(rateLimiter(cfg.RateLimit, cfg.RateBurst))
	}

	s.registerRoutes()
	return s, nil
}

// requestContext carries the request id, the server logger and the open
// project to handlers and everything they call.
func (s *Server) requestContext(ctx context.Context, id string) context.Context {
	if tagged, err := logging.WithRequestID(ctx, id); err == nil {
		ctx = tagged
	}
	ctx = logging.WithLogger(ctx, s.log)
	if s.workspace != nil {
		ctx = logging.WithProject(ctx, s.workspace.Root())
	}
	return ctx
}

// withContextID tags the request with the context id named in the route.
func withContextID(c echo.Context) context.Context {
	ctx := logging.WithContextID(c.Request().Context(), c.Param("id"))
	c.SetRequest(c.Request().WithContext(ctx))
	return ctx
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			ctx := c.Request().Context()
			log := logging.FromContext(ctx)
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			}
			if isInfraRoute(c.Path()) {
				log.Debug(ctx, "http request", fields...)
			} else {
				log.Info(ctx, "http request", fields...)
			}
			return err
		}
	}
}

func isInfraRoute(route string) bool {
	return route == "/health" || route == "/metrics"
}

// rateLimiter limits each client IP with a token bucket.
func rateLimiter(limit float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(limit) + 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool { return isInfraRoute(c.Path()) },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	ctxs := v1.Group("/contexts")
	ctxs.POST("", s.handleBuildContext)
	ctxs.POST("/stream", s.handleStreamContext)
	ctxs.GET("", s.handleListContexts)
	ctxs.GET("/:id", s.handleGetSummary)
	ctxs.GET("/:id/content", s.handleGetContent)
	ctxs.DELETE("/:id", s.handleDeleteContext)

	ws := v1.Group("/workspace", s.requireWorkspace)
	ws.GET("/tree", s.handleTree)
	ws.POST("/refresh", s.handleRefresh)
	ws.GET("/selection", s.handleSelection)
	ws.DELETE("/selection", s.handleClearSelection)
	ws.POST("/selection/toggle", s.handleToggle)
	ws.POST("/selection/select", s.handleSelectRecursive)
	ws.POST("/selection/deselect", s.handleDeselectRecursive)
	ws.POST("/expand", s.handleToggleExpanded)
	ws.POST("/validate", s.handleValidate)
	ws.POST("/build", s.handleWorkspaceBuild)
	ws.GET("/content", s.handleWorkspaceContent)
	ws.DELETE("/context", s.handleWorkspaceReset)
}

func (s *Server) requireWorkspace(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.workspace == nil {
			return ErrNoWorkspace
		}
		return next(c)
	}
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start listens until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Status: "ok", Version: s.version}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	if ws := s.workspace; ws != nil {
		p := ws.Pipeline()
		resp.Project = ws.Root()
		resp.Pipeline = &PipelineStatus{
			Status:     p.Status(),
			Building:   p.IsBuilding(),
			Generation: p.Generation(),
			Current:    p.Current(),
			Metrics:    p.Metrics(),
		}
		if err := p.LastError(); err != nil {
			resp.Pipeline.LastError = err.Error()
		}
		resp.Guard = &GuardStatus{Running: ws.Guard().IsRunning()}
	}
	return c.JSON(http.StatusOK, resp)
}
