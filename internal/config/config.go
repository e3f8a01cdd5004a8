package config

import (
	"fmt"
	"time"

	"github.com/RishiKendai/codetrace/internal/configs/env"
	"github.com/RishiKendai/codetrace/internal/retry"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all configuration for the application
type Config struct {
	// Server
	ServerPort  string
	MetricsPort string

	// Logging
	LogLevel  string
	LogFormat string

	// Code search
	GitHubToken       string
	GitHubAPIURL      string
	SearchLanguage    string
	SearchResultLimit int
	SearchRPS         float64

	// Oracle
	OracleProvider    string
	OracleTemperature float64
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIProxy       string
	GeminiAPIKey      string
	GeminiModel       string

	// External calls
	ExternalCallTimeout     time.Duration
	ExternalCallMaxAttempts int

	// Runs
	RunTimeout        time.Duration
	MaxUploadBytes    int64
	MaxConcurrentRuns int

	// MongoDB
	MongoURI    string
	MongoDBName string

	// Redis
	RedisHost               string
	RedisPassword           string
	RedisStreamKey          string
	RedisConsumerGroup      string
	RedisDeadLetterKey      string
	StreamRetentionDuration time.Duration
	StatusTTL               time.Duration

	// JWT
	JWTSecret string
	JWTIssuer string

	// Rate Limiting
	RateLimitRPS float64
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.ServerPort = env.GetEnv("SERVER_PORT", "8000")
	cfg.MetricsPort = env.GetEnv("METRICS_PORT", "2112")

	// Logging
	cfg.LogLevel = env.GetEnv("LOG_LEVEL", "info")
	cfg.LogFormat = env.GetEnv("LOG_FORMAT", "json")

	// Code search
	cfg.GitHubToken = env.GetEnv("GITHUB_TOKEN", "")
	cfg.GitHubAPIURL = env.GetEnv("GITHUB_API_URL", "https://api.github.com")
	cfg.SearchLanguage = env.GetEnv("SEARCH_LANGUAGE", "python")
	cfg.SearchResultLimit = env.GetEnvInt("SEARCH_RESULT_LIMIT", 3)
	cfg.SearchRPS = env.GetEnvFloat("SEARCH_RPS", 0.5)

	// Oracle
	cfg.OracleProvider = env.GetEnv("ORACLE_PROVIDER", ProviderOpenAI)
	cfg.OracleTemperature = env.GetEnvFloat("ORACLE_TEMPERATURE", 0)
	cfg.OpenAIAPIKey = env.GetEnv("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = env.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = env.GetEnv("OPENAI_MODEL", "gpt-5-nano")
	cfg.OpenAIProxy = env.GetEnv("OPENAI_PROXY", "")
	cfg.GeminiAPIKey = env.GetEnv("GEMINI_API_KEY", "")
	cfg.GeminiModel = env.GetEnv("GEMINI_MODEL", "gemini-2.5-flash")

	// External calls
	timeoutSeconds := env.GetEnvInt("EXTERNAL_CALL_TIMEOUT_SECONDS", 60)
	cfg.ExternalCallTimeout = time.Duration(timeoutSeconds) * time.Second
	cfg.ExternalCallMaxAttempts = env.GetEnvInt("EXTERNAL_CALL_MAX_ATTEMPTS", 3)

	// Runs
	runTimeoutMinutes := env.GetEnvInt("RUN_TIMEOUT_MINUTES", 10)
	cfg.RunTimeout = time.Duration(runTimeoutMinutes) * time.Minute
	cfg.MaxUploadBytes = env.GetEnvInt64("MAX_UPLOAD_BYTES", 1<<20)
	cfg.MaxConcurrentRuns = env.GetEnvInt("MAX_CONCURRENT_RUNS", 4)

	// MongoDB
	cfg.MongoURI = env.GetEnv("MONGO_URI", "")
	cfg.MongoDBName = env.GetEnv("MONGO_DB_NAME", "codetrace")

	// Redis
	cfg.RedisHost = env.GetEnv("REDIS_HOST", "localhost:6379")
	cfg.RedisPassword = env.GetEnv("REDIS_PASSWORD", "")
	cfg.RedisStreamKey = env.GetEnv("REDIS_STREAM_KEY", "codetrace:submissions")
	cfg.RedisConsumerGroup = env.GetEnv("REDIS_CONSUMER_GROUP", "codetrace:group")
	cfg.RedisDeadLetterKey = env.GetEnv("REDIS_DEAD_LETTER_KEY", "codetrace:dlq")
	retentionHours := env.GetEnvInt("STREAM_RETENTION_HOURS", 24)
	cfg.StreamRetentionDuration = time.Duration(retentionHours) * time.Hour
	statusTTLHours := env.GetEnvInt("STATUS_TTL_HOURS", 12)
	cfg.StatusTTL = time.Duration(statusTTLHours) * time.Hour

	// JWT
	cfg.JWTSecret = env.GetEnv("JWT_SECRET", "")
	cfg.JWTIssuer = env.GetEnv("JWT_ISSUER", "codetrace")

	// Rate Limiting
	cfg.RateLimitRPS = env.GetEnvFloat("RATE_LIMIT_RPS", 10.0)

	return cfg, nil
}

// Validate checks the settings every entry point needs: the oracle and the analysis limits.
func (c *Config) Validate() error {
	switch c.OracleProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ORACLE_PROVIDER=%s", ProviderOpenAI)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ORACLE_PROVIDER=%s", ProviderGemini)
		}
	default:
		return fmt.Errorf("unknown ORACLE_PROVIDER %q", c.OracleProvider)
	}
	if c.SearchResultLimit <= 0 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be greater than 0")
	}
	if c.SearchRPS <= 0 {
		return fmt.Errorf("SEARCH_RPS must be greater than 0")
	}
	if c.ExternalCallTimeout <= 0 {
		return fmt.Errorf("EXTERNAL_CALL_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.ExternalCallMaxAttempts <= 0 {
		return fmt.Errorf("EXTERNAL_CALL_MAX_ATTEMPTS must be greater than 0")
	}
	return nil
}

// ValidateServe additionally checks the infrastructure the HTTP service depends on.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.MongoDBName == "" {
		return fmt.Errorf("MONGO_DB_NAME is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be greater than 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be greater than 0")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT_MINUTES must be greater than 0")
	}
	if c.StreamRetentionDuration <= 0 {
		return fmt.Errorf("STREAM_RETENTION_HOURS must be greater than 0")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be greater than 0")
	}
	return nil
}

// ExternalCallPolicy is the retry policy for code search and oracle calls.
func (c *Config) ExternalCallPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if c.ExternalCallMaxAttempts > 0 {
		policy.MaxAttempts = c.ExternalCallMaxAttempts
	}
	if c.ExternalCallTimeout > 0 {
		policy.AttemptTimeout = c.ExternalCallTimeout
	}
	return policy
}
