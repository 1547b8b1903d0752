package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_API_KEYS", "k1")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRequiresAProviderKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("GEMINI_API_KEYS", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigParsesLists(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("GEMINI_API_KEYS", " k1, k2 ,,k3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GEMINI_MODEL_MAP", "chat-model=gemini-x, broken, chat-model-small = gemini-y")
	t.Setenv("GENERATION_TIMEOUT", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.GeminiAPIKeys)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, map[string]string{"chat-model": "gemini-x", "chat-model-small": "gemini-y"}, cfg.GeminiModelMap)
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, "load-balance", cfg.DefaultProviderPreference)
}
