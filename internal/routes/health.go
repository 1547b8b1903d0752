package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conversly/chat-gateway/internal/controllers"
)

// SetupHealthRoutes configures health check endpoints
func SetupHealthRoutes(router *gin.Engine, checks ...controllers.Check) {
	healthController := controllers.NewHealthController(checks...)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	router.GET("/health", healthController.HealthCheck)
	router.GET("/health/live", healthController.Liveness)
	router.GET("/health/ready", healthController.Readiness)
}
