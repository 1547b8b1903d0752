package feedback

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router gin.IRouter, store Store, auth gin.HandlerFunc) {
	ctrl := NewController(NewService(store))
	router.POST("/api/chat/:id/messages/:messageId/feedback", auth, ctrl.Submit)
}
