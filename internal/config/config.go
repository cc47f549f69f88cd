// Package config provides centralized configuration management for the
// migration engine. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration, following the same reflection-driven loader as the
// teacher's internal/config package (see loader.go).
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ingest    IngestConfig
	Scheduler SchedulerConfig
	JobPool   JobPoolConfig
	Logging   LoggingConfig
	Sheets    SheetsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is loaded and validated (default: 15s); the web server does
	// not read it and uses a fixed 15s read timeout.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is loaded (default: 0); the web server does not read it
	// and always uses no write timeout, for polling.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is loaded (default: 60s); the web server does not read it
	// and uses a fixed 60s keep-alive timeout.
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is loaded (default: 60s); the web server does not read it
	// and applies a fixed 60s request-timeout middleware.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies lists CIDRs (or bare IPs) allowed to set X-Real-IP /
	// X-Forwarded-For; requests from anywhere else keep their raw RemoteAddr.
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds C1/C2's pre-save validation and workbook intake
// settings, replacing the teacher's CSV-specific UploadConfig.
type IngestConfig struct {
	// MaxPayloadBytes is the Basic-phase payload ceiling (default: 100MB)
	MaxPayloadBytes int64 `env:"INGEST_MAX_PAYLOAD_BYTES" default:"104857600"`

	// MaxWaitTime is loaded and validated (default: 30s); no component reads
	// it, and Submit waits for a job-pool slot until its caller's context ends.
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is loaded and validated (default: 5000); no component reads
	// it, and a SheetType that omits a batch size uses
	// model.SheetType.EffectiveBatchSize's fixed 5000.
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"5000"`
}

// SchedulerConfig holds C6/C7's concurrency and timeout settings.
type SchedulerConfig struct {
	// MaxConcurrentSheets bounds parallel-marked sheets running at once (default: 3)
	MaxConcurrentSheets int `env:"SCHEDULER_MAX_CONCURRENT_SHEETS" default:"3"`

	// SheetTimeout bounds one sheet's whole three-phase run (default: 30m)
	SheetTimeout time.Duration `env:"SCHEDULER_SHEET_TIMEOUT" default:"30m"`

	// IngestTimeout/ValidateTimeout/InsertTimeout bound each phase individually
	IngestTimeout   time.Duration `env:"SCHEDULER_INGEST_TIMEOUT" default:"5m"`
	ValidateTimeout time.Duration `env:"SCHEDULER_VALIDATE_TIMEOUT" default:"10m"`
	InsertTimeout   time.Duration `env:"SCHEDULER_INSERT_TIMEOUT" default:"30m"`

	// RetryMaxAttempts/RetryInitialBackoff configure the backoff policy applied
	// to transient phase failures (default: 3 attempts, 5s initial, doubling)
	RetryMaxAttempts    int           `env:"SCHEDULER_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff time.Duration `env:"SCHEDULER_RETRY_INITIAL_BACKOFF" default:"5s"`

	// ContinueOnSheetFailure keeps the scheduler running later sheets after
	// one sheet fails, per spec.md §4.7's continue-on-failure policy
	// (default: true). When false, the scheduler stops dispatching further
	// sheets the moment one fails.
	ContinueOnSheetFailure bool `env:"SCHEDULER_CONTINUE_ON_SHEET_FAILURE" default:"true"`
}

// JobPoolConfig holds C9's bounded-concurrency and circuit-breaker
// settings.
type JobPoolConfig struct {
	// CorePoolSize is the steady-state number of jobs run concurrently (default: 2)
	CorePoolSize int `env:"JOBPOOL_CORE_SIZE" default:"2"`

	// MaxPoolSize is the burst ceiling for concurrent jobs (default: 5)
	MaxPoolSize int `env:"JOBPOOL_MAX_SIZE" default:"5"`

	// QueueCapacity bounds how many jobs may wait for a slot (default: 100)
	QueueCapacity int `env:"JOBPOOL_QUEUE_CAPACITY" default:"100"`

	// FailureThreshold is consecutive job failures before the breaker opens (default: 5)
	FailureThreshold int `env:"JOBPOOL_FAILURE_THRESHOLD" default:"5"`

	// CircuitOpenPeriod is how long Submit is rejected once the breaker opens (default: 1m)
	CircuitOpenPeriod time.Duration `env:"JOBPOOL_CIRCUIT_OPEN_PERIOD" default:"1m"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SheetsConfig points at the declarative sheet-type manifest C3/C6/C7 load
// at startup (internal/sheetconfig).
type SheetsConfig struct {
	// ManifestPath is the YAML file describing every SheetType (default: sheets.yaml)
	ManifestPath string `env:"SHEETS_MANIFEST_PATH" default:"sheets.yaml"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
