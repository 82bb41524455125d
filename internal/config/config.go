package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Provider Configuration:
// - GEMINI_API_KEYS: comma-separated Gemini API keys (primary pool)
// - GEMINI_MODEL: Gemini model name (default: gemini-2.0-flash)
// - LLM_API_KEY: OpenAI-compatible API key (fallback pool; primary if no Gemini keys)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-3.5-turbo)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 300)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Pipeline Configuration:
// - BATCH_TOKEN_BUDGET: estimated tokens per batch (default: 1500)
// - CHECKPOINT_FIRST: entries translated before the first partial save (default: 30)
// - CHECKPOINT_STEP: entries between subsequent partial saves (default: 75)
// - CHECKPOINT_DEBOUNCE: minimum interval between partial saves (default: 3s)
// - CHECKPOINT_MIN_DELTA: minimum new entries between partial saves (default: 10)
// - MISMATCH_CUTOFF: missing-entry ratio above which the whole batch retries (default: 0.3)
// - FULL_RETRY_COUNT: whole-batch retries on heavy mismatch (default: 1)
// - MAX_JOBS_PER_USER: concurrent jobs per user (default: 3)
// - WORKFLOW_MODE: numbered, tagged, jsonarray or rawtimed (default: numbered)
//
// Rotation Configuration:
// - KEY_ERROR_THRESHOLD: classified errors before cooldown (default: 5)
// - KEY_ERROR_WINDOW: rolling window for the error count (default: 1h)
// - KEY_COOLDOWN: cooldown once the threshold is hit (default: 10m)
// - ROTATION_GRANULARITY: per-batch or per-request (default: per-batch)
//
// Cache Configuration:
// - CACHE_BACKEND: sqlite or memory (default: sqlite)
// - CACHE_DB_PATH: SQLite database path (default: ./data/cache.db)
// - PARTIAL_RECORD_TTL: partial record lifetime (default: 24h)
// - FINAL_RECORD_TTL: final record lifetime (default: 720h)
// - ERROR_RECORD_TTL: error record lifetime (default: 15m)
// - JANITOR_CRON: cron expression for expired-entry sweeps (default: @every 10m)
//
// System Configuration:
// - HTTP_ADDR: HTTP listen address (default: :8080)
// - LOG_LEVEL: debug, info, warn or error (default: info)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Pipeline PipelineConfig `json:"pipeline"`
	Rotation RotationConfig `json:"rotation"`
	Cache    CacheConfig    `json:"cache"`
	System   SystemConfig   `json:"system"`
}

// ProviderConfig holds the credentials and models for the primary and
// fallback provider pools.
type ProviderConfig struct {
	GeminiAPIKeys []string  `json:"-"`
	GeminiModel   string    `json:"gemini_model"`
	LLM           LLMConfig `json:"llm"`
}

// LLMConfig holds the configuration for an OpenAI-compatible provider
// (OpenRouter, OpenAI, etc.).
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// PipelineConfig holds the batching, checkpointing and recovery tuning.
type PipelineConfig struct {
	BatchTokenBudget   int           `json:"batch_token_budget"`
	CheckpointFirst    int           `json:"checkpoint_first"`
	CheckpointStep     int           `json:"checkpoint_step"`
	CheckpointDebounce time.Duration `json:"checkpoint_debounce"`
	CheckpointMinDelta int           `json:"checkpoint_min_delta"`
	MismatchCutoff     float64       `json:"mismatch_cutoff"`
	FullRetryCount     int           `json:"full_retry_count"`
	MaxJobsPerUser     int           `json:"max_jobs_per_user"`
	WorkflowMode       string        `json:"workflow_mode"`
}

// RotationConfig holds the credential health and rotation tuning.
type RotationConfig struct {
	ErrorThreshold int           `json:"error_threshold"`
	ErrorWindow    time.Duration `json:"error_window"`
	Cooldown       time.Duration `json:"cooldown"`
	Granularity    string        `json:"granularity"`
}

// CacheConfig holds the shared store and record lifetime settings.
type CacheConfig struct {
	Backend          string        `json:"backend"`
	DBPath           string        `json:"db_path"`
	PartialRecordTTL time.Duration `json:"partial_record_ttl"`
	FinalRecordTTL   time.Duration `json:"final_record_ttl"`
	ErrorRecordTTL   time.Duration `json:"error_record_ttl"`
	JanitorCron      string        `json:"janitor_cron"`
}

// SystemConfig holds the system configuration.
type SystemConfig struct {
	HTTPAddr string `json:"http_addr"`
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Provider: ProviderConfig{
			GeminiAPIKeys: getEnvStringList("GEMINI_API_KEYS"),
			GeminiModel:   getEnvString("GEMINI_MODEL", "gemini-2.0-flash"),
			LLM: LLMConfig{
				APIKey:      getEnvString("LLM_API_KEY", ""),
				APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
				Model:       getEnvString("LLM_MODEL", "openai/gpt-3.5-turbo"),
				MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
				Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
				Timeout:     getEnvInt("LLM_TIMEOUT", 300),
				SiteURL:     getEnvString("LLM_SITE_URL", ""),
				AppName:     getEnvString("LLM_APP_NAME", ""),
			},
		},
		Pipeline: PipelineConfig{
			BatchTokenBudget:   getEnvInt("BATCH_TOKEN_BUDGET", 1500),
			CheckpointFirst:    getEnvInt("CHECKPOINT_FIRST", 30),
			CheckpointStep:     getEnvInt("CHECKPOINT_STEP", 75),
			CheckpointDebounce: getEnvDuration("CHECKPOINT_DEBOUNCE", 3*time.Second),
			CheckpointMinDelta: getEnvInt("CHECKPOINT_MIN_DELTA", 10),
			MismatchCutoff:     getEnvFloat("MISMATCH_CUTOFF", 0.3),
			FullRetryCount:     getEnvInt("FULL_RETRY_COUNT", 1),
			MaxJobsPerUser:     getEnvInt("MAX_JOBS_PER_USER", 3),
			WorkflowMode:       getEnvString("WORKFLOW_MODE", "numbered"),
		},
		Rotation: RotationConfig{
			ErrorThreshold: getEnvInt("KEY_ERROR_THRESHOLD", 5),
			ErrorWindow:    getEnvDuration("KEY_ERROR_WINDOW", time.Hour),
			Cooldown:       getEnvDuration("KEY_COOLDOWN", 10*time.Minute),
			Granularity:    getEnvString("ROTATION_GRANULARITY", "per-batch"),
		},
		Cache: CacheConfig{
			Backend:          getEnvString("CACHE_BACKEND", "sqlite"),
			DBPath:           getEnvString("CACHE_DB_PATH", "./data/cache.db"),
			PartialRecordTTL: getEnvDuration("PARTIAL_RECORD_TTL", 24*time.Hour),
			FinalRecordTTL:   getEnvDuration("FINAL_RECORD_TTL", 720*time.Hour),
			ErrorRecordTTL:   getEnvDuration("ERROR_RECORD_TTL", 15*time.Minute),
			JanitorCron:      getEnvString("JANITOR_CRON", "@every 10m"),
		},
		System: SystemConfig{
			HTTPAddr: getEnvString("HTTP_ADDR", ":8080"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if len(c.Provider.GeminiAPIKeys) == 0 && c.Provider.LLM.APIKey == "" {
		return fmt.Errorf("at least one of GEMINI_API_KEYS or LLM_API_KEY is required")
	}
	if c.Cache.Backend != "sqlite" && c.Cache.Backend != "memory" {
		return fmt.Errorf("CACHE_BACKEND must be sqlite or memory, got %q", c.Cache.Backend)
	}
	if c.Pipeline.MismatchCutoff <= 0 || c.Pipeline.MismatchCutoff > 1 {
		return fmt.Errorf("MISMATCH_CUTOFF must be in (0, 1], got %v", c.Pipeline.MismatchCutoff)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringList gets a comma-separated list from environment variables
func getEnvStringList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
