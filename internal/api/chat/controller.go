package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/core"
	"github.com/Conversly/chat-gateway/internal/middleware"
	"github.com/Conversly/chat-gateway/internal/utils"
)

type Controller struct {
	service *Service
}

func NewController(s *Service) *Controller {
	return &Controller{service: s}
}

// Chat handles POST /api/chat and streams the turn as SSE.
func (ctl *Controller) Chat(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	user, ok := middleware.CurrentUser(c)
	if !ok {
		writeError(c, errUnauthorized)
		return
	}

	accepted, err := ctl.service.StartTurn(c.Request.Context(), user, &req, hintsFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("X-Stream-ID", accepted.StreamID)
	streamSSE(c, accepted.Frames)
}

// ResumeStream handles GET /api/chat/:id/stream.
func (ctl *Controller) ResumeStream(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		writeError(c, errUnauthorized)
		return
	}

	frames, err := ctl.service.Resume(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if frames == nil {
		c.Status(http.StatusNoContent)
		return
	}
	streamSSE(c, frames)
}

func hintsFrom(c *gin.Context) core.Hints {
	return core.Hints{
		Locale:    c.GetHeader("Accept-Language"),
		City:      c.GetHeader("X-Geo-City"),
		Country:   c.GetHeader("X-Geo-Country"),
		Latitude:  c.GetHeader("X-Geo-Latitude"),
		Longitude: c.GetHeader("X-Geo-Longitude"),
	}
}

// streamSSE copies frames to the client until the channel closes or the
// client goes away.
func streamSSE(c *gin.Context, frames <-chan []byte) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case chunk, ok := <-frames:
			if !ok {
				return
			}
			if _, err := c.Writer.Write(chunk); err != nil {
				utils.Zlog.Debug("Client write failed", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

var errUnauthorized = errors.New("authentication required")

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := "an internal error occurred"

	switch {
	case errors.Is(err, errUnauthorized):
		status, code, msg = http.StatusUnauthorized, "unauthorized", err.Error()
	case errors.Is(err, ErrForbidden):
		status, code, msg = http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, ErrChatNotFound):
		status, code, msg = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, ErrRateLimited):
		status, code, msg = http.StatusTooManyRequests, "rate_limited", err.Error()
	case errors.Is(err, core.ErrChatBusy):
		status, code, msg = http.StatusConflict, "chat_busy", err.Error()
	default:
		utils.Zlog.Error("Chat request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":     code,
		"message":   msg,
		"timestamp": time.Now().UTC(),
	})
}

func badRequest(c *gin.Context, err error) {
	utils.Zlog.Warn("invalid /api/chat payload", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     "bad_request",
		"message":   err.Error(),
		"timestamp": time.Now().UTC(),
	})
}
