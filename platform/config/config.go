// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookRatePerMinute() int
}

// RedisConfig provides Redis connection settings.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	IsRedisEnabled() bool
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RoutingConfig provides retry and ranking limits for the routing core.
type RoutingConfig interface {
	GetAssignmentAttempts() int
	GetRankAttempts() int
	GetRankMaxLength() int
	GetDeliveryTTL() time.Duration
}

// PhoneConfig provides phone normalization rules for contact deduplication.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
	GetPhonePrefixRules() string
	GetPhoneRulesFile() string
}

// EnrichmentConfig provides settings for the external lead enrichment lookup.
type EnrichmentConfig interface {
	GetEnrichmentURL() string
	GetEnrichmentAPIKey() string
	GetEnrichmentAttempts() int
	GetEnrichmentBackoff() time.Duration
	IsEnrichmentEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	DatabaseMaxConns     int
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	WebhookRatePerMinute int
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	AssignmentAttempts   int
	RankAttempts         int
	RankMaxLength        int
	DeliveryTTL          time.Duration
	PhoneDefaultRegion   string
	PhonePrefixRules     string
	PhoneRulesFile       string
	EnrichmentURL        string
	EnrichmentAPIKey     string
	EnrichmentAttempts   int
	EnrichmentBackoff    time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string   { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int { return c.DatabaseMaxConns }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool        { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool      { return c.CORSAllowCreds }
func (c *Config) GetWebhookRatePerMinute() int { return c.WebhookRatePerMinute }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) IsRedisEnabled() bool      { return c.RedisURL != "" }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// RoutingConfig implementation
func (c *Config) GetAssignmentAttempts() int     { return c.AssignmentAttempts }
func (c *Config) GetRankAttempts() int           { return c.RankAttempts }
func (c *Config) GetRankMaxLength() int          { return c.RankMaxLength }
func (c *Config) GetDeliveryTTL() time.Duration { return c.DeliveryTTL }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }
func (c *Config) GetPhonePrefixRules() string   { return c.PhonePrefixRules }
func (c *Config) GetPhoneRulesFile() string     { return c.PhoneRulesFile }

// EnrichmentConfig implementation
func (c *Config) GetEnrichmentURL() string            { return c.EnrichmentURL }
func (c *Config) GetEnrichmentAPIKey() string         { return c.EnrichmentAPIKey }
func (c *Config) GetEnrichmentAttempts() int          { return c.EnrichmentAttempts }
func (c *Config) GetEnrichmentBackoff() time.Duration { return c.EnrichmentBackoff }
func (c *Config) IsEnrichmentEnabled() bool           { return c.EnrichmentURL != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:     positiveInt(getEnv("DATABASE_MAX_CONNS", "25"), 25),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		WebhookRatePerMinute: positiveInt(getEnv("WEBHOOK_RATE_PER_MINUTE", "120"), 120),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "routing"),
		AsynqConcurrency:     positiveInt(getEnv("ASYNQ_CONCURRENCY", "5"), 5),
		AssignmentAttempts:   positiveInt(getEnv("ROUTING_ASSIGNMENT_ATTEMPTS", "5"), 5),
		RankAttempts:         positiveInt(getEnv("ROUTING_RANK_ATTEMPTS", "5"), 5),
		RankMaxLength:        positiveInt(getEnv("ROUTING_RANK_MAX_LENGTH", "24"), 24),
		DeliveryTTL:          mustDuration(getEnv("ROUTING_DELIVERY_TTL", "72h")),
		PhoneDefaultRegion:   strings.ToUpper(strings.TrimSpace(getEnv("PHONE_DEFAULT_REGION", ""))),
		PhonePrefixRules:     getEnv("PHONE_PREFIX_RULES", ""),
		PhoneRulesFile:       getEnv("PHONE_RULES_FILE", ""),
		EnrichmentURL:        getEnv("ENRICHMENT_URL", ""),
		EnrichmentAPIKey:     getEnv("ENRICHMENT_API_KEY", ""),
		EnrichmentAttempts:   positiveInt(getEnv("ENRICHMENT_ATTEMPTS", "3"), 3),
		EnrichmentBackoff:    mustDuration(getEnv("ENRICHMENT_BACKOFF", "500ms")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.DeliveryTTL <= 0 {
		return nil, fmt.Errorf("ROUTING_DELIVERY_TTL must be a positive duration")
	}
	if cfg.RankMaxLength < 4 {
		return nil, fmt.Errorf("ROUTING_RANK_MAX_LENGTH must be at least 4")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func positiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
