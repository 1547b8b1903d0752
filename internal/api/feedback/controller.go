package feedback

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/middleware"
	"github.com/Conversly/chat-gateway/internal/utils"
)

type Controller struct {
	svc *Service
}

func NewController(svc *Service) *Controller {
	return &Controller{svc: svc}
}

func (c *Controller) Submit(ctx *gin.Context) {
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Zlog.Warn("invalid feedback payload", zap.Error(err))
		respondError(ctx, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		respondError(ctx, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	err := c.svc.Submit(ctx.Request.Context(), user, ctx.Param("id"), ctx.Param("messageId"), &req)
	switch {
	case err == nil:
	case errors.Is(err, ErrForbidden):
		respondError(ctx, http.StatusForbidden, "forbidden", err.Error())
		return
	case errors.Is(err, ErrNotFound):
		respondError(ctx, http.StatusNotFound, "not_found", err.Error())
		return
	case errors.Is(err, ErrNotRateable), errors.Is(err, ErrInvalidRating):
		respondError(ctx, http.StatusBadRequest, "feedback_error", err.Error())
		return
	default:
		utils.Zlog.Error("feedback update failed",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		respondError(ctx, http.StatusInternalServerError, "internal_error", "an internal error occurred")
		return
	}

	ctx.JSON(http.StatusOK, Response{Success: true, RequestID: middleware.GetRequestID(ctx)})
}

func respondError(ctx *gin.Context, status int, code, msg string) {
	ctx.JSON(status, gin.H{
		"error":     code,
		"message":   msg,
		"timestamp": time.Now().UTC(),
	})
}
