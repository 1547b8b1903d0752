package chat

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the chat endpoints behind auth.
func RegisterRoutes(router gin.IRouter, svc *Service, auth gin.HandlerFunc) {
	ctrl := NewController(svc)

	group := router.Group("/api/chat", auth)
	group.POST("", ctrl.Chat)
	group.GET("/:id/stream", ctrl.ResumeStream)
}
