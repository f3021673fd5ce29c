package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"FinCast/pkg/http/middleware"
	applogger "FinCast/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORS            bool
	MetricsPath     string
	Gatherer        prometheus.Gatherer
	HTTPMetrics     *middleware.HTTPMetrics
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	logger *applogger.Logger
	errCh  chan error
}

// NewServer creates a new HTTP server with Echo.
func NewServer(lgr *applogger.Logger, handler Handler, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		CORS:            true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(lgr))
	e.Use(middleware.RequestLogging(lgr))
	if cfg.HTTPMetrics != nil {
		e.Use(cfg.HTTPMetrics.Middleware())
	}
	if cfg.CORS {
		e.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	}

	if handler != nil {
		handler.RegisterRoutes(e)
	}

	if cfg.MetricsPath != "" {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{
		echo:   e,
		config: cfg,
		logger: lgr,
		errCh:  make(chan error, 1),
	}
}

// Start listens in the background. Listener failures are reported on Errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	go func() {
		s.logger.Info("http server listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", applogger.Error(err))
			s.errCh <- err
		}
	}()

	return nil
}

// Errors delivers a fatal listener error, if any.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithHost sets server host.
func WithHost(host string) ServerOption {
	return func(c *ServerConfig) {
		c.Host = host
	}
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) {
		c.Port = port
	}
}

// WithTimeouts sets read/write timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
		c.ShutdownTimeout = shutdown
	}
}

// WithCORS enables/disables CORS.
func WithCORS(enabled bool) ServerOption {
	return func(c *ServerConfig) {
		c.CORS = enabled
	}
}

// WithMetrics exposes Prometheus collectors at path and records HTTP metrics.
func WithMetrics(path string, gatherer prometheus.Gatherer, m *middleware.HTTPMetrics) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath = path
		c.Gatherer = gatherer
		c.HTTPMetrics = m
	}
}
