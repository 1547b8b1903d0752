package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

const checkTimeout = 5 * time.Second

// Check pings one dependency. A failing critical check makes the service
// unhealthy; any other failure only marks it degraded.
type Check struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type HealthController struct {
	checks []Check
}

func NewHealthController(checks ...Check) *HealthController {
	return &HealthController{checks: checks}
}

// HealthCheck godoc
// @Summary Check application health
// @Description Check if the application and its dependencies are healthy
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthController) HealthCheck(c *gin.Context) {
	deps, critical, degraded := h.run(c.Request.Context())

	status, code := "healthy", http.StatusOK
	switch {
	case critical:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

// Liveness godoc
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/live [get]
func (h *HealthController) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// Readiness godoc
// @Summary Readiness check
// @Description Ready once every critical dependency answers
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/ready [get]
func (h *HealthController) Readiness(c *gin.Context) {
	deps, critical, _ := h.run(c.Request.Context())
	if critical {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not ready",
			"dependencies": deps,
			"timestamp":    time.Now().UTC(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}

func (h *HealthController) run(parent context.Context) (deps map[string]string, critical, degraded bool) {
	deps = make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		ctx, cancel := context.WithTimeout(parent, checkTimeout)
		err := chk.Ping(ctx)
		cancel()

		if err == nil {
			deps[chk.Name] = "up"
			continue
		}
		deps[chk.Name] = "down"
		utils.Zlog.Error("Health check failed",
			zap.String("dependency", chk.Name),
			zap.Bool("critical", chk.Critical),
			zap.Error(err))
		if chk.Critical {
			critical = true
		} else {
			degraded = true
		}
	}
	return deps, critical, degraded
}
