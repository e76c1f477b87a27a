package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"pdf-workbench/internal/domain"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort  string
	StorageRoot string
	MaxFileSize int64
	LogLevel    string
	CORSOrigins []string

	SessionIdleTimeout time.Duration
	ReapInterval       time.Duration
	OrphanGracePeriod  time.Duration

	EngineTimeout     time.Duration
	EngineConcurrency int
	RenderDPI         float64
	SofficePath       string
	OCRPath           string

	RateLimitRPS   float64
	RateLimitBurst int

	SupabaseURL         string
	SupabaseKey         string
	SupabaseEventsTable string
}

// NewConfig creates a new configuration instance with default values
func NewConfig() domain.Config {
	return &AppConfig{
		// Cloud Run (and many PaaS) provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:  getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8080")),
		StorageRoot: getEnvOrDefault("STORAGE_ROOT", "./data"),
		MaxFileSize: getEnvInt64OrDefault("MAX_FILE_SIZE", 50*1024*1024), // 50MB default
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		CORSOrigins: getEnvListOrDefault("CORS_ORIGINS", []string{"*"}),

		SessionIdleTimeout: getEnvDurationOrDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		ReapInterval:       getEnvDurationOrDefault("REAP_INTERVAL", time.Minute),
		OrphanGracePeriod:  getEnvDurationOrDefault("ORPHAN_GRACE_PERIOD", time.Hour),

		EngineTimeout:     getEnvDurationOrDefault("ENGINE_TIMEOUT", 2*time.Minute),
		EngineConcurrency: int(getEnvInt64OrDefault("ENGINE_CONCURRENCY", 4)),
		RenderDPI:         getEnvFloatOrDefault("RENDER_DPI", 150),
		SofficePath:       getEnvOrDefault("SOFFICE_PATH", "soffice"),
		OCRPath:           getEnvOrDefault("OCRMYPDF_PATH", "ocrmypdf"),

		RateLimitRPS:   getEnvFloatOrDefault("RATE_LIMIT_RPS", 10),
		RateLimitBurst: int(getEnvInt64OrDefault("RATE_LIMIT_BURST", 20)),

		SupabaseURL:         getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:         getEnvOrDefault("SUPABASE_ANON_KEY", ""),
		SupabaseEventsTable: getEnvOrDefault("SUPABASE_EVENTS_TABLE", "artifact_events"),
	}
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetStorageRoot returns the directory holding the artifact buckets
func (c *AppConfig) GetStorageRoot() string {
	return c.StorageRoot
}

// GetMaxFileSize returns the maximum allowed upload size
func (c *AppConfig) GetMaxFileSize() int64 {
	return c.MaxFileSize
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetCORSOrigins returns the allowed CORS origins
func (c *AppConfig) GetCORSOrigins() []string {
	return c.CORSOrigins
}

// GetSessionIdleTimeout returns how long a session may stay idle before it is reaped
func (c *AppConfig) GetSessionIdleTimeout() time.Duration {
	return c.SessionIdleTimeout
}

// GetReapInterval returns the background sweep interval
func (c *AppConfig) GetReapInterval() time.Duration {
	return c.ReapInterval
}

// GetOrphanGracePeriod returns the minimum age of an unknown file before reconciliation deletes it
func (c *AppConfig) GetOrphanGracePeriod() time.Duration {
	return c.OrphanGracePeriod
}

func (c *AppConfig) GetEngineTimeout() time.Duration {
	return c.EngineTimeout
}

func (c *AppConfig) GetEngineConcurrency() int {
	return c.EngineConcurrency
}

func (c *AppConfig) GetRenderDPI() float64 {
	return c.RenderDPI
}

func (c *AppConfig) GetSofficePath() string {
	return c.SofficePath
}

func (c *AppConfig) GetOCRPath() string {
	return c.OCRPath
}

func (c *AppConfig) GetRateLimitRPS() float64 {
	return c.RateLimitRPS
}

func (c *AppConfig) GetRateLimitBurst() int {
	return c.RateLimitBurst
}

// GetSupabaseURL returns the Supabase URL
func (c *AppConfig) GetSupabaseURL() string {
	return c.SupabaseURL
}

// GetSupabaseKey returns the Supabase anon key
func (c *AppConfig) GetSupabaseKey() string {
	return c.SupabaseKey
}

// GetSupabaseEventsTable returns the table artifact events are written to
func (c *AppConfig) GetSupabaseEventsTable() string {
	return c.SupabaseEventsTable
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
