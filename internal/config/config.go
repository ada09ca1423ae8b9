// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	CORSOrigins        []string
	Database           DatabaseConfig
	Providers          ProviderConfig
	TavilyAPIKey       string
	DiscordWebhook     string // Error alerting webhook; empty disables alerting
	RedisURL           string // Change notification fan-out; empty = in-process
	RateLimit          RateLimitConfig
	ExposeErrorDetails bool
	RetentionInterval  time.Duration
	SessionTTL         time.Duration
	MFAIssuer          string
}

// DatabaseConfig selects and locates the chat store.
type DatabaseConfig struct {
	Path string // SQLite file, used when URL is empty
	URL  string // postgres:// connection URL
	Key  string // Overrides the password embedded in URL
}

// ProviderConfig carries credentials for every supported model family.
type ProviderConfig struct {
	OpenAIAPIKey     string
	DeepSeekAPIKey   string
	GoogleAPIKey     string
	OpenRouterAPIKey string
	GatewayBaseURL   string // Optional override for the OpenAI-compatible endpoint
	Timeout          time.Duration
}

// RateLimitConfig controls per-client throttling of model calls.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	origins := splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000"))

	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		CORSOrigins: origins,
		Database:    loadDatabase(),
		Providers: ProviderConfig{
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			DeepSeekAPIKey:   getEnv("DEEPSEEK_API_KEY", ""),
			GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
			OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
			GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", ""),
			Timeout:          getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		},
		TavilyAPIKey:   getEnv("TAVILY_API_KEY", ""),
		DiscordWebhook: getEnv("DISCORD_WEBHOOK", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 1),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		},
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", time.Hour),
		SessionTTL:        getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		MFAIssuer:         getEnv("MFA_ISSUER", "AI Chat"),
	}
	cfg.ExposeErrorDetails = getEnvBool("EXPOSE_ERROR_DETAILS", cfg.IsDevelopment())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDatabase reads only the store settings, for tools that never talk to
// a model provider.
func LoadDatabase() (DatabaseConfig, error) {
	db := loadDatabase()
	if err := db.Validate(); err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return db, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Path: getEnv("DB_PATH", "./data/chats.db"),
		URL:  getEnv("DATABASE_URL", ""),
		Key:  getEnv("DATABASE_KEY", ""),
	}
}

// Validate checks that all required configuration fields are set.
// Every missing credential is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	required := []struct {
		name  string
		value string
	}{
		{"OPENAI_API_KEY", c.Providers.OpenAIAPIKey},
		{"DEEPSEEK_API_KEY", c.Providers.DeepSeekAPIKey},
		{"GOOGLE_API_KEY", c.Providers.GoogleAPIKey},
		{"OPENROUTER_API_KEY", c.Providers.OpenRouterAPIKey},
		{"TAVILY_API_KEY", c.TavilyAPIKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("missing required environment variable: %s", r.name))
		}
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be > 0"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be > 0"))
	}
	if c.RetentionInterval <= 0 {
		errs = append(errs, errors.New("RETENTION_INTERVAL must be > 0"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}
	return errors.Join(errs...)
}

// Validate checks that a store can be located.
func (d DatabaseConfig) Validate() error {
	if d.URL == "" && d.Path == "" {
		return errors.New("one of DATABASE_URL or DB_PATH must be set")
	}
	if d.URL != "" && !d.IsPostgres() {
		return fmt.Errorf("DATABASE_URL must be a postgres:// URL")
	}
	return nil
}

// IsPostgres returns true when the store lives in PostgreSQL.
func (d DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://")
}

// IsDevelopment returns true if every allowed origin is a local one.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	if len(c.CORSOrigins) == 0 {
		return true
	}
	for _, o := range c.CORSOrigins {
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
