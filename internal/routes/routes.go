package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/Conversly/chat-gateway/internal/api/chat"
	"github.com/Conversly/chat-gateway/internal/api/feedback"
	"github.com/Conversly/chat-gateway/internal/config"
	"github.com/Conversly/chat-gateway/internal/controllers"
	"github.com/Conversly/chat-gateway/internal/loaders"
	"github.com/Conversly/chat-gateway/internal/middleware"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, db *loaders.PostgresClient, cfg *config.Config, svc *chat.Service,
	snapshots controllers.SnapshotSource, checks []controllers.Check) {
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RequestID())
	router.Use(middleware.Tracing())

	SetupHealthRoutes(router, checks...)

	system := controllers.NewSystemController(cfg, snapshots)
	router.GET("/api/status", system.Status)
	router.GET("/api/info", system.Info)

	auth := middleware.Auth(db, loaders.ErrNotFound)
	chat.RegisterRoutes(router, svc, auth)
	feedback.RegisterRoutes(router, db, auth)
	Setup404Handler(router)
}
