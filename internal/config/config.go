package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL  time.Duration
	CacheSize int

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string // optional; enables signature checks on access tokens
	ProfilesTable      string

	// Session lifecycle
	SessionInitTimeout time.Duration
	KeepAliveInterval  time.Duration
	OAuthRedirectURL   string
	FunctionsPingURL   string // optional edge-function warm-up target

	// Durable key-value storage
	KVBackend     string // file, redis or memory
	KVFilePath    string
	KVPrefix      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 16),

		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheSize: getEnvInt("CACHE_SIZE", 256),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		ProfilesTable:      getEnv("PROFILES_TABLE", "profiles"),

		SessionInitTimeout: getEnvDuration("SESSION_INIT_TIMEOUT", 15*time.Second),
		KeepAliveInterval:  getEnvDuration("KEEPALIVE_INTERVAL", 60*time.Second),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/v1/auth/callback"),
		FunctionsPingURL:   getEnv("FUNCTIONS_PING_URL", ""),

		KVBackend:     getEnv("KV_BACKEND", "file"),
		KVFilePath:    getEnv("KV_FILE_PATH", ".maspatas/storage.json"),
		KVPrefix:      getEnv("KV_PREFIX", "maspatas:"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

// Validate reports configuration that would leave the agent unusable.
func (c *Config) Validate() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.KVBackend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown KV_BACKEND %q (want file, redis or memory)", c.KVBackend)
	}

	if c.SessionInitTimeout <= 0 {
		return fmt.Errorf("SESSION_INIT_TIMEOUT must be positive")
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be positive")
	}
	return nil
}

// DatabaseKey returns the key used for PostgREST calls: the service role key
// when configured, otherwise the anon key.
func (c *Config) DatabaseKey() string {
	if c.SupabaseServiceKey != "" {
		return c.SupabaseServiceKey
	}
	return c.SupabaseAnonKey
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
