package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL    string
	LogLevel       string
	Debug          bool
	ServiceName    string
	Environment    string
	Hostname       string
	ServerPort     string
	WorkerCount    int
	AllowedOrigins []string

	GeminiAPIKeys []string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Default logical -> backend model bindings. Admin overrides stored in
	// the database take precedence over these.
	GeminiModelMap            map[string]string
	OpenAIModelMap            map[string]string
	DefaultProviderPreference string
	ModelTemperature          float32
	ModelMaxTokens            int

	StreamLogPath     string
	GenerationTimeout time.Duration
	SettingsTTL       time.Duration
	RetrievalTopK     int

	GuestDailyMessages   int
	RegularDailyMessages int

	WeatherBaseURL      string
	AttachmentMaxChars  int
	AttachmentsDisabled bool

	Telemetry TelemetryConfig
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

func LoadConfig() (*Config, error) {
	databaseUrl := os.Getenv("DATABASE_URL")
	if databaseUrl == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	geminiAPIKeys := splitList(os.Getenv("GEMINI_API_KEYS"))
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if len(geminiAPIKeys) == 0 && openAIKey == "" {
		return nil, errors.New("at least one of GEMINI_API_KEYS or OPENAI_API_KEY is required")
	}

	allowedOrigins := []string{"*"}
	if ao := splitList(os.Getenv("ALLOWED_ORIGINS")); len(ao) > 0 {
		allowedOrigins = ao
	}

	geminiModels := parseModelMap(getEnv("GEMINI_MODEL_MAP",
		"chat-model=gemini-2.5-flash,chat-model-small=gemini-2.0-flash-lite,chat-model-reasoning=gemini-2.5-pro,title-model=gemini-2.0-flash-lite"))
	openAIModels := parseModelMap(getEnv("OPENAI_MODEL_MAP",
		"chat-model=gpt-4o,chat-model-reasoning=o4-mini,title-model=gpt-4o-mini"))

	serviceName := getEnv("SERVICE_NAME", "chat-gateway")

	return &Config{
		DatabaseURL:    databaseUrl,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Debug:          getEnv("DEBUG", "false") == "true",
		ServiceName:    serviceName,
		Hostname:       getEnv("HOSTNAME", serviceName),
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", getEnv("PORT", "8080")),
		WorkerCount:    getInt("WORKER_COUNT", 10),
		AllowedOrigins: allowedOrigins,

		GeminiAPIKeys: geminiAPIKeys,
		OpenAIAPIKey:  openAIKey,
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		GeminiModelMap:            geminiModels,
		OpenAIModelMap:            openAIModels,
		DefaultProviderPreference: getEnv("DEFAULT_PROVIDER_PREFERENCE", "load-balance"),
		ModelTemperature:          float32(getFloat("MODEL_TEMPERATURE", 0.7)),
		ModelMaxTokens:            getInt("MODEL_MAX_TOKENS", 4096),

		StreamLogPath:     getEnv("STREAM_LOG_PATH", "data/streams.bolt"),
		GenerationTimeout: getDuration("GENERATION_TIMEOUT", 5*time.Minute),
		SettingsTTL:       getDuration("SETTINGS_TTL", 30*time.Second),
		RetrievalTopK:     getInt("RETRIEVAL_TOP_K", 5),

		GuestDailyMessages:   getInt("GUEST_DAILY_MESSAGES", 20),
		RegularDailyMessages: getInt("REGULAR_DAILY_MESSAGES", 100),

		WeatherBaseURL:      getEnv("WEATHER_BASE_URL", "https://api.open-meteo.com"),
		AttachmentMaxChars:  getInt("ATTACHMENT_MAX_CHARS", 4000),
		AttachmentsDisabled: getEnv("ATTACHMENTS_DISABLED", "false") == "true",

		Telemetry: TelemetryConfig{
			Enabled:      getEnv("OTEL_ENABLED", "false") == "true",
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  serviceName,
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseModelMap parses "logical=backend,logical=backend".
func parseModelMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		logical, backend, ok := strings.Cut(pair, "=")
		logical, backend = strings.TrimSpace(logical), strings.TrimSpace(backend)
		if !ok || logical == "" || backend == "" {
			continue
		}
		out[logical] = backend
	}
	return out
}
