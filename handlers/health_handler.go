package handlers

import (
	"context"
	"net/http"
	"time"

	"satlegal-backend/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and usage endpoints
type HealthHandler struct {
	registry *metrics.Registry
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHealthHandler creates a new health handler. checks are pinged on every
// health request and keyed by the name reported to the caller.
func NewHealthHandler(registry *metrics.Registry, checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{registry: registry, checks: checks, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": deps,
	})
}

// Metrics handles GET /api/v1/metrics
func (h *HealthHandler) Metrics(c *gin.Context) {
	if h.registry == nil {
		respondOK(c, http.StatusOK, metrics.Totals{})
		return
	}
	respondOK(c, http.StatusOK, h.registry.Totals())
}
