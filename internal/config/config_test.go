package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/chat")

	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "chat_stream", cfg.RequestStream)
	require.Equal(t, "response_stream", cfg.ResponseStream)
	require.Equal(t, int64(10000), cfg.StreamMaxLen)
	require.Equal(t, time.Hour, cfg.MappingTTL)
	require.Equal(t, 3, cfg.ResponseRetries)
	require.Equal(t, 10, cfg.MaxStatements)
	require.Equal(t, []string{"customs_name", "country", "country_name"}, cfg.SuggestFields)
	require.Equal(t, cfg.DatabaseURL, cfg.DataDatabaseURL)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("AI_RESPONSE_TIMEOUT", "5")
	t.Setenv("AI_RETRY_DELAY", "250ms")
	t.Setenv("SUGGEST_FIELDS", " country , ,customs_name")
	t.Setenv("MAX_STATEMENTS", "not-a-number")

	cfg := Load()
	require.Equal(t, 5*time.Second, cfg.ResponseTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	require.Equal(t, []string{"country", "customs_name"}, cfg.SuggestFields)
	require.Equal(t, 10, cfg.MaxStatements)
}

func TestLoadModelDefaultsFollowProvider(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("SQL_MODEL", "")
	t.Setenv("ANSWER_MODEL", "")

	t.Setenv("ORACLE_PROVIDER", "gemini")
	cfg := Load()
	require.Equal(t, "gemini-2.5-pro", cfg.SQLModel)
	require.Equal(t, "gemini-2.5-flash", cfg.AnswerModel)

	t.Setenv("ORACLE_PROVIDER", "openai")
	cfg = Load()
	require.Equal(t, "gpt-5", cfg.SQLModel)
	require.Equal(t, "gpt-5-mini", cfg.AnswerModel)

	t.Setenv("ORACLE_PROVIDER", "Gemini")
	t.Setenv("SQL_MODEL", "gemini-2.0-flash")
	cfg = Load()
	require.Equal(t, "gemini-2.0-flash", cfg.SQLModel)
	require.Equal(t, "gemini-2.5-flash", cfg.AnswerModel)
}

func TestLoadProductionRequiresURLs(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	require.Panics(t, func() { Load() })
}

func TestOracleAPIKey(t *testing.T) {
	cfg := &Config{OracleProvider: "openai", OpenAIAPIKey: "sk-o", GeminiAPIKey: "g-k"}
	require.Equal(t, "sk-o", cfg.OracleAPIKey())

	cfg.OracleProvider = "Gemini"
	require.Equal(t, "g-k", cfg.OracleAPIKey())
}
