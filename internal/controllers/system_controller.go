package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Conversly/chat-gateway/internal/config"
	"github.com/Conversly/chat-gateway/internal/settings"
)

// SnapshotSource serves the current settings snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) *settings.Snapshot
}

type SystemController struct {
	cfg      *config.Config
	settings SnapshotSource
}

func NewSystemController(cfg *config.Config, src SnapshotSource) *SystemController {
	return &SystemController{cfg: cfg, settings: src}
}

// Status godoc
// @Summary Get system status
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/status [get]
func (s *SystemController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     s.cfg.ServiceName,
		"version":     "1.0.0",
		"environment": s.cfg.Environment,
		"hostname":    s.cfg.Hostname,
		"timestamp":   time.Now().UTC(),
	})
}

// Info godoc
// @Summary Get system information, including the active model bindings
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/info [get]
func (s *SystemController) Info(c *gin.Context) {
	snap := s.settings.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"service":             s.cfg.ServiceName,
		"version":             "1.0.0",
		"environment":         s.cfg.Environment,
		"hostname":            s.cfg.Hostname,
		"debug":               s.cfg.Debug,
		"log_level":           s.cfg.LogLevel,
		"provider_preference": snap.DefaultPreference,
		"gemini_models":       snap.GeminiModels,
		"openai_models":       snap.OpenAIModels,
		"settings_loaded_at":  snap.LoadedAt,
		"timestamp":           time.Now().UTC(),
	})
}
