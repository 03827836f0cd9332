package config

import "time"

// Config is the root configuration for the metering engine.
type Config struct {
	// Server configures the HTTP surface (metrics, health).
	Server ServerConfig `yaml:"server"`

	// Ledger configures budget records and their backing store.
	Ledger LedgerConfig `yaml:"ledger"`

	// Pricing configures the rate table and unit counting.
	Pricing PricingConfig `yaml:"pricing"`

	// Usage configures the per-event usage journal.
	Usage UsageConfig `yaml:"usage"`

	// Telemetry configures logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is the host:port to bind. Default: ":9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Ledger store backends.
const (
	LedgerBackendMemory = "memory"
	LedgerBackendSQLite = "sqlite"
	LedgerBackendRedis  = "redis"
)

// LedgerConfig contains budget ledger settings.
type LedgerConfig struct {
	// Backend selects the store: "memory", "sqlite", or "redis".
	Backend string `yaml:"backend"`

	// DefaultCap is the budget cap assigned to principals seen for the
	// first time, in USD.
	DefaultCap float64 `yaml:"default_cap"`

	// DefaultDuration is the budget window for new principals:
	// "daily", "weekly", or "monthly".
	DefaultDuration string `yaml:"default_duration"`

	// SQLite configures the sqlite backend.
	SQLite LedgerSQLiteConfig `yaml:"sqlite"`

	// Redis configures the redis backend.
	Redis LedgerRedisConfig `yaml:"redis"`
}

// LedgerSQLiteConfig contains sqlite ledger settings.
type LedgerSQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LedgerRedisConfig contains redis ledger settings.
type LedgerRedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password is the optional AUTH password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyPrefix namespaces all ledger keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// Unit counter kinds.
const (
	CounterWords    = "words"
	CounterTiktoken = "tiktoken"
)

// PricingConfig contains rate table and unit counting settings.
type PricingConfig struct {
	// TablePath is the YAML rate table file. Empty uses built-in rates.
	TablePath string `yaml:"table_path"`

	// Watch reloads the rate table when the file changes.
	Watch bool `yaml:"watch"`

	// Counter selects local unit counting: "words" or "tiktoken".
	Counter string `yaml:"counter"`

	// TiktokenModel selects the encoding for the tiktoken counter.
	TiktokenModel string `yaml:"tiktoken_model"`
}

// Usage journal backends.
const (
	UsageBackendMemory = "memory"
	UsageBackendSQLite = "sqlite"
)

// UsageConfig contains usage journal settings.
type UsageConfig struct {
	// Enabled enables usage recording.
	Enabled bool `yaml:"enabled"`

	// Backend selects the sink: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the journal database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// AsyncBuffer is the size of the async write buffer.
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds a single journal write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how many days of events to keep. 0 disables
	// pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for scheduled pruning.
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	Format string `yaml:"format"`

	// AddSource includes file and line number in logs.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled enables the /metrics endpoint.
	Enabled bool `yaml:"enabled"`

	// Path is the exposition endpoint path. Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix. Default: "meridian"
	Namespace string `yaml:"namespace"`
}
