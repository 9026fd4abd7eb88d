package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/models"
)

var startTime = time.Now()

// HealthChecker is anything that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProviderStatusSource reports breaker state per provider.
type ProviderStatusSource interface {
	GetRateLimitStatus() map[string]models.RateLimitStatus
}

type HealthHandler struct {
	redis     HealthChecker
	providers ProviderStatusSource
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Providers map[string]string `json:"providers"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler creates the handler. redis is nil when the shared tier
// is disabled, which does not make the service unhealthy.
func NewHealthHandler(redis HealthChecker, providers ProviderStatusSource) *HealthHandler {
	return &HealthHandler{
		redis:     redis,
		providers: providers,
	}
}

// HealthCheck reports healthy while at least one provider can be called.
// Open breakers alone only degrade the status.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	services := make(map[string]string)
	overallStatus := "healthy"

	if h.redis != nil {
		if err := h.redis.HealthCheck(c.Request.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
			overallStatus = "degraded"
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "disabled"
	}

	providers := make(map[string]string)
	available := 0
	for name, status := range h.providers.GetRateLimitStatus() {
		providers[name] = string(status.State)
		if status.State != models.CircuitOpen {
			available++
		}
	}
	if available < len(providers) && overallStatus == "healthy" {
		overallStatus = "degraded"
	}
	if available == 0 {
		overallStatus = "unhealthy"
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Providers: providers,
		Version:   os.Getenv("APP_VERSION"),
		Uptime:    time.Since(startTime).String(),
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// LivenessCheck for container restarts
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
