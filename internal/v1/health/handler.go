// Package health serves the kubernetes-style liveness and readiness
// probes. Liveness never checks dependencies; readiness pings the event
// bus when one is configured.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/bus"
	"github.com/atelierhq/atelier/internal/v1/logging"
)

// Pinger is the slice of the event bus the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the probe endpoints.
type Handler struct {
	bus Pinger
}

// NewHandler wires the probes to the event bus. A nil service means
// single-instance mode and the bus check always passes.
func NewHandler(events *bus.Service) *Handler {
	if events == nil {
		return &Handler{}
	}
	return &Handler{bus: events}
}

// LivenessResponse is the liveness probe body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It answers 200 whenever the process
// can serve requests at all.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. It answers 200 only when every
// dependency is reachable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"event_bus": h.checkBus(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkBus(ctx context.Context) string {
	if h.bus == nil {
		return "healthy" // Single-instance mode.
	}
	if err := h.bus.Ping(ctx); err != nil {
		logging.Error(ctx, "event bus health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
