package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/api/chat"
	"github.com/Conversly/chat-gateway/internal/attachments"
	"github.com/Conversly/chat-gateway/internal/config"
	"github.com/Conversly/chat-gateway/internal/controllers"
	"github.com/Conversly/chat-gateway/internal/core"
	"github.com/Conversly/chat-gateway/internal/embedder"
	"github.com/Conversly/chat-gateway/internal/llm"
	"github.com/Conversly/chat-gateway/internal/loaders"
	"github.com/Conversly/chat-gateway/internal/rag"
	"github.com/Conversly/chat-gateway/internal/resumable"
	"github.com/Conversly/chat-gateway/internal/routes"
	"github.com/Conversly/chat-gateway/internal/routing"
	"github.com/Conversly/chat-gateway/internal/settings"
	"github.com/Conversly/chat-gateway/internal/telemetry"
	"github.com/Conversly/chat-gateway/internal/tools"
	"github.com/Conversly/chat-gateway/internal/types"
	"github.com/Conversly/chat-gateway/internal/utils"
)

// streamRetention bounds how long replay logs are kept. Finished streams
// are persisted as messages, so their logs only outlive them briefly.
var streamRetention = resumable.Retention{
	MaxAge:        24 * time.Hour,
	FinishedGrace: 2 * time.Minute,
	Interval:      10 * time.Minute,
}

func main() {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: Error loading .env file", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	cleanup := utils.InitLogger(cfg)
	defer cleanup()

	utils.Zlog.Info("Starting application",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.ServerPort))

	shutdownTracing, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		utils.Zlog.Error("Failed to initialise tracing", zap.Error(err))
		os.Exit(1)
	}

	db, err := loaders.NewPostgresClient(cfg.DatabaseURL, cfg.WorkerCount)
	if err != nil {
		utils.Zlog.Error("Failed to create database client", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			utils.Zlog.Error("Error closing database connection", zap.Error(err))
		}
	}()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		utils.Zlog.Error("Failed to apply database schema", zap.Error(err))
		os.Exit(1)
	}
	cancelSchema()

	streamLog := openStreamLog(cfg.StreamLogPath)
	pruneCtx, stopPruner := context.WithCancel(context.Background())
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		resumable.RunPruner(pruneCtx, streamLog, streamRetention)
	}()
	if streamLog != nil {
		defer func() {
			if err := streamLog.Close(); err != nil {
				utils.Zlog.Error("Error closing stream log", zap.Error(err))
			}
		}()
	}

	models := buildModels(cfg)
	snapshots := settings.NewLoader(db, defaultSnapshot(cfg), cfg.SettingsTTL)

	svc := chat.NewService(chat.Deps{
		Store:             db,
		Orchestrator:      core.NewOrchestrator(llm.NewUnit(models), buildRetriever(cfg, db), cfg.RetrievalTopK),
		Finalizer:         core.NewFinalizer(db),
		Locks:             core.NewChatLocks(),
		Streams:           resumable.NewWrapper(streamLog),
		Settings:          snapshots,
		Models:            models,
		GenerationTimeout: cfg.GenerationTimeout,
		Attachments:       buildAttachmentReader(cfg),
		Tools: tools.Deps{
			Documents:      db,
			WeatherBaseURL: cfg.WeatherBaseURL,
		},
		DailyLimits: map[types.UserType]int{
			types.UserTypeGuest:   cfg.GuestDailyMessages,
			types.UserTypeRegular: cfg.RegularDailyMessages,
		},
	})
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := []controllers.Check{{Name: "database", Critical: true, Ping: db.Ping}}
	if bl, ok := streamLog.(*resumable.BoltLog); ok {
		checks = append(checks, controllers.Check{Name: "stream_log", Ping: bl.Ping})
	}

	router := gin.New()
	routes.SetupRoutes(router, db, cfg, svc, snapshots, checks)

	// Streams stay open for as long as generation runs, so no write timeout.
	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		utils.Zlog.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Zlog.Error("Failed to start server", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Zlog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.Zlog.Error("Server forced to shutdown", zap.Error(err))
	}
	stopPruner()
	<-prunerDone
	if err := shutdownTracing(ctx); err != nil {
		utils.Zlog.Warn("Failed to flush traces", zap.Error(err))
	}

	utils.Zlog.Info("Server exited")
}

func buildModels(cfg *config.Config) *llm.Registry {
	temperature := cfg.ModelTemperature
	maxTokens := cfg.ModelMaxTokens

	registry := llm.NewRegistry()
	if len(cfg.GeminiAPIKeys) > 0 {
		registry.Register(routing.ProviderGemini, llm.GeminiFactory(cfg.GeminiAPIKeys, &temperature, &maxTokens))
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register(routing.ProviderOpenAI, llm.OpenAIFactory(llm.OpenAIConfig{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		}))
	}
	return registry
}

func buildRetriever(cfg *config.Config, db *loaders.PostgresClient) rag.Retriever {
	if len(cfg.GeminiAPIKeys) == 0 {
		utils.Zlog.Warn("No Gemini keys for embeddings, knowledge retrieval disabled")
		return rag.NewNoopRetriever()
	}
	emb, err := embedder.NewGeminiEmbedder(cfg.GeminiAPIKeys)
	if err != nil {
		utils.Zlog.Warn("Failed to create embedder, knowledge retrieval disabled", zap.Error(err))
		return rag.NewNoopRetriever()
	}
	return rag.NewPgVectorRetriever(db, emb)
}

func buildAttachmentReader(cfg *config.Config) *attachments.Reader {
	if cfg.AttachmentsDisabled {
		return nil
	}
	reader, err := attachments.NewReader(context.Background(), attachments.Config{MaxChars: cfg.AttachmentMaxChars})
	if err != nil {
		utils.Zlog.Warn("Failed to create attachment reader, files will only be described", zap.Error(err))
		return nil
	}
	return reader
}

// openStreamLog returns nil when the log cannot be opened; streams then
// resume only from memory.
func openStreamLog(path string) resumable.Log {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		utils.Zlog.Warn("Stream log directory unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}
	log, err := resumable.OpenBoltLog(path)
	if err != nil {
		utils.Zlog.Warn("Stream log unavailable, resuming from memory only", zap.Error(err))
		return nil
	}
	return log
}

func defaultSnapshot(cfg *config.Config) settings.Snapshot {
	pref, ok := routing.ParsePreference(cfg.DefaultProviderPreference)
	if !ok {
		pref = routing.PreferLoadBalance
	}
	return settings.Snapshot{
		GeminiModels:      cfg.GeminiModelMap,
		OpenAIModels:      cfg.OpenAIModelMap,
		DefaultPreference: pref,
	}
}
