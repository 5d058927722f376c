package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port            string
	Env             string
	DatabaseURL     string // chat store (PostgreSQL)
	SQLitePath      string // chat store fallback for local development
	DataDatabaseURL string // analytical table
	RedisURL        string

	// Message bus
	RequestStream   string
	ResponseStream  string
	MappingPrefix   string
	StreamMaxLen    int64
	MappingTTL      time.Duration
	ResponseTimeout time.Duration
	ResponseRetries int
	RetryDelay      time.Duration
	CleanupAttempts int

	// Query pipeline
	HistoryWindow int
	MaxStatements int
	DataTable     string
	SuggestFields []string
	SuggestLimit  int
	QueryTimeout  time.Duration

	// Oracle
	OracleProvider string // "openai" or "gemini"
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	GeminiAPIKey   string
	SQLModel       string
	AnswerModel    string
	OracleTimeout  time.Duration

	// Worker
	WorkerBlock     time.Duration
	WorkerStartID   string
	WorkerHeartbeat time.Duration
	WorkerMetrics   string // listen address for the worker's /metrics, empty disables

	// Rate limiting
	MessageRateLimit   int      // websocket messages per user per minute
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AllowedOrigins     []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      getEnv("SQLITE_PATH", "./data/talkdb.db"),
		DataDatabaseURL: getEnv("DATA_DATABASE_URL", os.Getenv("DATABASE_URL")),
		RedisURL:        os.Getenv("REDIS_URL"),

		RequestStream:   getEnv("CHAT_STREAM_KEY", "chat_stream"),
		ResponseStream:  getEnv("RESPONSE_STREAM_KEY", "response_stream"),
		MappingPrefix:   getEnv("MSG_MAP_PREFIX", "msg_map:"),
		StreamMaxLen:    int64(getInt("STREAM_MAX_LEN", 10000)),
		MappingTTL:      getDuration("MSG_MAP_TTL", time.Hour),
		ResponseTimeout: getDuration("AI_RESPONSE_TIMEOUT", 60*time.Second),
		ResponseRetries: getInt("AI_RESPONSE_RETRIES", 3),
		RetryDelay:      getDuration("AI_RETRY_DELAY", 2*time.Second),
		CleanupAttempts: getInt("CLEANUP_ATTEMPTS", 3),

		HistoryWindow: getInt("HISTORY_WINDOW", 20),
		MaxStatements: getInt("MAX_STATEMENTS", 10),
		DataTable:     getEnv("DATA_TABLE", "final_true"),
		SuggestFields: getList("SUGGEST_FIELDS", "customs_name,country,country_name"),
		SuggestLimit:  getInt("SUGGEST_LIMIT", 100),
		QueryTimeout:  getDuration("QUERY_TIMEOUT", 30*time.Second),

		OracleProvider: getEnv("ORACLE_PROVIDER", "openai"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		OracleTimeout:  getDuration("ORACLE_TIMEOUT", 2*time.Minute),

		WorkerBlock:     getDuration("WORKER_BLOCK", 15*time.Second),
		WorkerStartID:   getEnv("WORKER_START_ID", "0-0"),
		WorkerHeartbeat: getDuration("WORKER_HEARTBEAT", time.Minute),
		WorkerMetrics:   os.Getenv("WORKER_METRICS_ADDR"),

		MessageRateLimit:   getInt("MESSAGE_RATE_LIMIT", 30),
		RateLimitWhitelist: getList("RATE_LIMIT_WHITELIST", ""),
		AllowedOrigins:     getList("ALLOWED_ORIGINS", "*"),
	}

	sqlModel, answerModel := defaultModels(cfg.OracleProvider)
	cfg.SQLModel = getEnv("SQL_MODEL", sqlModel)
	cfg.AnswerModel = getEnv("ANSWER_MODEL", answerModel)

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

// getList parses a comma-separated list, dropping empty entries.
func getList(key, defaultValue string) []string {
	var out []string
	for _, entry := range strings.Split(getEnv(key, defaultValue), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// OracleAPIKey returns the key of the configured provider.
func (c *Config) OracleAPIKey() string {
	if strings.EqualFold(c.OracleProvider, "gemini") {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// defaultModels returns the SQL and answer models used for provider when
// SQL_MODEL and ANSWER_MODEL are unset.
func defaultModels(provider string) (sqlModel, answerModel string) {
	if strings.EqualFold(provider, "gemini") {
		return "gemini-2.5-pro", "gemini-2.5-flash"
	}
	return "gpt-5", "gpt-5-mini"
}
