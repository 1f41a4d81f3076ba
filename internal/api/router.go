// Package api is the HTTP enforcement surface of the decision core.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Harshith2412/zta-finance/pkg/metrics"
	"github.com/Harshith2412/zta-finance/pkg/telemetry"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger           *slog.Logger
	Metrics          *metrics.ServiceMetrics
	MiddlewareConfig *MiddlewareConfig
	ServiceName      string
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Logger:           slog.Default(),
		MiddlewareConfig: DefaultMiddlewareConfig(),
		ServiceName:      "decision-service",
	}
}

// NewRouter creates a new chi router with all middleware and routes.
func NewRouter(config *RouterConfig, services *Services) chi.Router {
	if config == nil {
		config = DefaultRouterConfig()
	}
	if config.MiddlewareConfig == nil {
		config.MiddlewareConfig = DefaultMiddlewareConfig()
	}

	r := chi.NewRouter()

	// Apply middleware stack
	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(LoggingMiddleware(config.Logger))
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware(config.ServiceName, metrics.SanitizePath))
	if config.Metrics != nil {
		r.Use(metrics.Middleware(config.Metrics))
	}
	r.Use(ContentTypeMiddleware)
	r.Use(RateLimitMiddleware(config.MiddlewareConfig))

	// Register routes
	registerHealthRoutes(r)
	registerMetricsRoute(r)
	registerDecisionRoutes(r, services, config.Logger)
	registerTokenRoutes(r, services, config.Logger)
	registerIdentityRoutes(r, services, config.Logger)
	registerAuditRoutes(r, services, config.Logger)

	return r
}

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady)
	r.Get("/live", handleLive)
}

// registerMetricsRoute exposes the Prometheus scrape endpoint.
func registerMetricsRoute(r chi.Router) {
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}

// handleHealth returns overall API health.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: "1.0.0",
	})
}

// handleReady returns readiness status.
func handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive returns liveness status.
func handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthResponse represents health check response.
type HealthResponse struct {
	Status     string                      `json:"status"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents individual component health.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// registerDecisionRoutes registers the enforcement-point endpoint.
func registerDecisionRoutes(r chi.Router, services *Services, logger *slog.Logger) {
	if services == nil || services.Decisions == nil {
		return
	}
	handler := NewDecisionHandler(services.Decisions, logger)
	r.Post("/api/v1/decisions", handler.Evaluate)
}

// registerTokenRoutes registers token lifecycle endpoints.
func registerTokenRoutes(r chi.Router, services *Services, logger *slog.Logger) {
	if services == nil || services.Tokens == nil {
		return
	}
	handler := NewTokenHandler(services, logger)
	r.Route("/api/v1/tokens", func(r chi.Router) {
		r.Post("/", handler.Issue)
		r.Post("/rotate", handler.Rotate)
		r.Post("/revoke", handler.Revoke)
	})
}

// registerIdentityRoutes registers identity management endpoints.
func registerIdentityRoutes(r chi.Router, services *Services, logger *slog.Logger) {
	if services == nil || services.Identities == nil {
		return
	}
	handler := NewIdentityHandler(services, logger)
	r.Route("/api/v1/identities", func(r chi.Router) {
		r.Post("/", handler.Register)
		r.Post("/{id}/unlock", handler.Unlock)
		r.Get("/{id}/devices", handler.ListDevices)
	})
	r.Post("/api/v1/devices/{fingerprint}/revoke", handler.RevokeDevice)
}

// registerAuditRoutes registers audit trail read endpoints.
func registerAuditRoutes(r chi.Router, services *Services, logger *slog.Logger) {
	if services == nil || services.Audit == nil {
		return
	}
	handler := NewAuditHandler(services.Audit, logger)
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Get("/events", handler.Query)
		r.Get("/verify", handler.Verify)
	})
}
