// Package config loads service configuration from environment variables.
// Every setting has a default except the database location, and Load
// validates the whole tree so the binaries fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Upload    UploadConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to.
	Host string `envconfig:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the API listen port.
	Port int `envconfig:"SERVER_PORT" default:"8080"`

	// MetricsPort serves /metrics on its own listener. Zero disables it.
	MetricsPort int `envconfig:"METRICS_PORT" default:"9090"`

	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds non-commit requests in middleware.
	RequestTimeout time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig selects and tunes the observation store.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver string `envconfig:"DB_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string. DB_URL is read when
	// DATABASE_URL is unset.
	URL string `envconfig:"DATABASE_URL"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `envconfig:"SQLITE_PATH" default:"ghgledger.db"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds preview and commit settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted upload in bytes (default: 100MB).
	MaxFileSize int64 `envconfig:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the number of commits allowed to run at once.
	MaxConcurrent int `envconfig:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long a commit waits for a slot.
	MaxWaitTime time.Duration `envconfig:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single commit.
	Timeout time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"10m"`

	PreviewReadRows   int `envconfig:"UPLOAD_PREVIEW_READ_ROWS" default:"200"`
	PreviewCheckRows  int `envconfig:"UPLOAD_PREVIEW_CHECK_ROWS" default:"50"`
	PreviewSampleRows int `envconfig:"UPLOAD_PREVIEW_SAMPLE_ROWS" default:"10"`

	// MaxReportedErrors caps the row errors kept on a job and returned in a report.
	MaxReportedErrors int `envconfig:"UPLOAD_MAX_REPORTED_ERRORS" default:"500"`

	// DefaultDatasetVersion is used when a commit names no version.
	DefaultDatasetVersion string `envconfig:"UPLOAD_DEFAULT_DATASET_VERSION" default:"v1"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `envconfig:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the preview and commit endpoints.
	UploadLimit int `envconfig:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	EnableCSP bool `envconfig:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `envconfig:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

// ArchiveConfig selects where raw uploads are kept.
type ArchiveConfig struct {
	// Driver is none, memory, fs or s3.
	Driver string `envconfig:"ARCHIVE_DRIVER" default:"none"`

	// Dir is the root directory for the fs driver.
	Dir string `envconfig:"ARCHIVE_DIR" default:"archive"`

	Bucket          string `envconfig:"ARCHIVE_S3_BUCKET"`
	Region          string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"ARCHIVE_S3_ENDPOINT"`
	PathStyle       bool   `envconfig:"ARCHIVE_S3_PATH_STYLE" default:"false"`
	AccessKeyID     string `envconfig:"ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"ARCHIVE_S3_SECRET_ACCESS_KEY"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `envconfig:"TRACING_ENABLED" default:"false"`
	Exporter    string  `envconfig:"TRACING_EXPORTER" default:"stdout"`
	SampleRatio float64 `envconfig:"TRACING_SAMPLE_RATIO" default:"1.0"`
	Environment string  `envconfig:"ENVIRONMENT" default:"development"`
}

// Addr returns the API listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (c *ServerConfig) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return c.Host + ":" + strconv.Itoa(c.MetricsPort)
}

// StoreURL returns the location passed to the store for the configured driver.
func (c *DatabaseConfig) StoreURL() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	return c.URL
}
