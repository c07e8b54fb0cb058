// Package http provides the profiled HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"github.com/fyrsmithlabs/profiled/internal/reports"
	"github.com/fyrsmithlabs/profiled/internal/stats"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string          `koanf:"host"`
	Port            int             `koanf:"port"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig listens on 0.0.0.0:8080.
func NewDefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: config.Duration(10 * time.Second),
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LimitsConfig throttles the profile endpoints. A zero rate disables
// throttling.
type LimitsConfig struct {
	ProfileRate  float64 `koanf:"profile_rate"` // requests per second
	ProfileBurst int     `koanf:"profile_burst"`
}

func (l LimitsConfig) limit() rate.Limit {
	if l.ProfileRate <= 0 {
		return rate.Inf
	}
	return rate.Limit(l.ProfileRate)
}

func (l LimitsConfig) burst() int { return max(l.ProfileBurst, 1) }

// Limiter returns the token bucket for the profile endpoints. With a zero
// rate it admits every request; Apply can tighten it later.
func (l LimitsConfig) Limiter() *rate.Limiter {
	return rate.NewLimiter(l.limit(), l.burst())
}

// Apply moves a limiter built by Limiter to l's rate and burst.
func (l LimitsConfig) Apply(limiter *rate.Limiter) {
	now := time.Now()
	limiter.SetLimitAt(now, l.limit())
	limiter.SetBurstAt(now, l.burst())
}

// Worker runs one unit of instrumented work.
type Worker interface {
	Run(ctx context.Context) (int64, error)
}

// SnapshotExporter projects a snapshot onto telemetry.
type SnapshotExporter interface {
	Export(ctx context.Context, snap stats.Snapshot)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Collector stats.RawSource
	Worker    Worker
	Exporter  SnapshotExporter

	Publisher      reports.Publisher // optional
	Tracer         trace.Tracer      // optional
	Meter          metric.Meter      // optional
	MetricsHandler http.Handler      // optional, served at /metrics
	ProfileLimiter *rate.Limiter     // optional
	ServiceName    string
}

// Server provides the HTTP endpoints for profiled.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	tracer trace.Tracer
	logger *zap.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Collector == nil {
		return nil, fmt.Errorf("collector cannot be nil")
	}
	if deps.Worker == nil {
		return nil, fmt.Errorf("worker cannot be nil")
	}
	if deps.Exporter == nil {
		return nil, fmt.Errorf("exporter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if deps.Publisher == nil {
		deps.Publisher = reports.NopPublisher{}
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer(InstrumentationName)
	}
	if deps.Meter == nil {
		deps.Meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "profiled"
	}

	metrics, err := newRequestMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("creating http metrics: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(tracingMiddleware(deps.Tracer))
	e.Use(requestLogger(logger))
	e.Use(metrics.middleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		tracer: deps.Tracer,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleHello)
	s.echo.GET("/health", s.handleHealth)

	profile := s.echo.Group("/profile")
	if s.deps.ProfileLimiter != nil {
		profile.Use(rateLimit(s.deps.ProfileLimiter))
	}
	profile.GET("", s.handleProfile)
	profile.GET("/pprof", s.handleProfilePprof)

	if s.deps.MetricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.MetricsHandler))
	}
}

// Handler exposes the router (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Addr()
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout.Duration())
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// ListenerAddr returns the bound address once the server is listening.
func (s *Server) ListenerAddr() net.Addr {
	return s.echo.ListenerAddr()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
