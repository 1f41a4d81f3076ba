package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	// TLS configuration
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultServerConfig returns a sensible default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// Server wraps http.Server with graceful shutdown and health checks.
type Server struct {
	server          *http.Server
	router          chi.Router
	config          *ServerConfig
	logger          *slog.Logger
	healthy         atomic.Bool
	ready           atomic.Bool
	started         atomic.Bool
	shutdownStarted atomic.Bool
}

// NewServer creates a new HTTP server.
func NewServer(router chi.Router, config *ServerConfig) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		router: router,
		config: config,
		logger: config.Logger,
	}

	var tlsConfig *tls.Config
	if config.TLSEnabled {
		if config.TLSCertFile == "" || config.TLSKeyFile == "" {
			return nil, fmt.Errorf("tls enabled but cert or key file missing")
		}
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		TLSConfig:    tlsConfig,
		ErrorLog:     slog.NewLogLogger(config.Logger.Handler(), slog.LevelError),
	}

	s.healthy.Store(true)
	s.ready.Store(false)

	return s, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if s.started.Load() {
		return fmt.Errorf("server already started")
	}

	s.started.Store(true)
	s.ready.Store(true)

	s.logger.InfoContext(ctx, "starting HTTP server",
		"addr", s.config.Addr,
		"tls", s.config.TLSEnabled,
	)

	var err error
	if s.config.TLSEnabled {
		err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.server.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		s.healthy.Store(false)
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// StartAsync starts the server in a goroutine and returns immediately.
func (s *Server) StartAsync() error {
	if s.started.Load() {
		return fmt.Errorf("server already started")
	}

	go func() {
		if err := s.Start(context.Background()); err != nil {
			s.logger.ErrorContext(context.Background(), "server error", "error", err)
		}
	}()

	// Wait a brief moment for the server to start
	time.Sleep(10 * time.Millisecond)
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}

	if s.shutdownStarted.Swap(true) {
		return nil // Already shutting down
	}

	s.logger.InfoContext(ctx, "shutting down HTTP server")

	// Mark as not ready first
	s.ready.Store(false)

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.ErrorContext(ctx, "server shutdown error", "error", err)
		s.healthy.Store(false)
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.healthy.Store(false)
	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}

// IsHealthy returns whether the server is healthy.
func (s *Server) IsHealthy() bool {
	return s.healthy.Load()
}

// IsReady returns whether the server is ready to accept requests.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// SetReady sets the server ready status.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Router returns the chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// HealthChecker aggregates component health checks.
type HealthChecker struct {
	checks map[string]HealthCheckFunc
	logger *slog.Logger
}

// HealthCheckFunc is a function that performs a health check.
type HealthCheckFunc func(ctx context.Context) error

// NewHealthChecker creates a new health checker.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		checks: make(map[string]HealthCheckFunc),
		logger: logger,
	}
}

// Register registers a health check.
func (h *HealthChecker) Register(name string, check HealthCheckFunc) {
	h.checks[name] = check
}

// Check runs all health checks and returns the results.
func (h *HealthChecker) Check(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{
		Status:     "healthy",
		Components: make(map[string]*ComponentHealthResult),
	}

	for name, check := range h.checks {
		componentResult := &ComponentHealthResult{Status: "healthy"}
		if err := check(ctx); err != nil {
			componentResult.Status = "unhealthy"
			componentResult.Error = err.Error()
			result.Status = "unhealthy"
			h.logger.WarnContext(ctx, "health check failed", "component", name, "error", err)
		}
		result.Components[name] = componentResult
	}

	return result
}

// HealthCheckResult represents the result of health checks.
type HealthCheckResult struct {
	Status     string                            `json:"status"`
	Components map[string]*ComponentHealthResult `json:"components,omitempty"`
}

// ComponentHealthResult represents the result of a component health check.
type ComponentHealthResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
