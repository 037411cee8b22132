package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ARK_API_KEY", "ARK_MODEL", "ARK_STREAM", "CHAT_STORE", "CHAT_STORE_PATH", "LOG_LEVEL", "LOG_FILE", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.AI.StreamResponse)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "data/chats", cfg.Store.Path)
	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao")
	t.Setenv("ARK_MAX_TOKENS", "512")
	t.Setenv("CHAT_STORE", "Pebble")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, http://127.0.0.1:5173")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.AI.Enabled())
	require.NotNil(t, cfg.AI.MaxTokens)
	assert.Equal(t, 512, *cfg.AI.MaxTokens)
	assert.Equal(t, StorePebble, cfg.Store.Backend)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":       "80 80",
		"ARK_STREAM": "maybe",
		"CHAT_STORE": "redis",
		"LOG_LEVEL":  "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("session created", "session", "s1")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "session created")
	assert.NotContains(t, stderr.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &record))
	assert.Equal(t, "s1", record["session"])
}
