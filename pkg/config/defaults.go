package config

import (
	"time"

	"tollgate-hq/meridian/pkg/ledger"
)

// ApplyDefaults fills unset fields with production defaults. Zero values
// that are meaningful settings (Usage.RetentionDays = 0 disables pruning)
// are left alone; only empty strings and zero durations are defaulted.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":9090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	// Ledger
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerBackendMemory
	}
	if cfg.Ledger.DefaultCap == 0 {
		cfg.Ledger.DefaultCap = ledger.DefaultUnlimitedBudget
	}
	if cfg.Ledger.DefaultDuration == "" {
		cfg.Ledger.DefaultDuration = string(ledger.DurationDaily)
	}
	if cfg.Ledger.SQLite.Path == "" {
		cfg.Ledger.SQLite.Path = "data/ledger.db"
	}
	if cfg.Ledger.SQLite.BusyTimeout == 0 {
		cfg.Ledger.SQLite.BusyTimeout = 5 * time.Second
	}
	if cfg.Ledger.Redis.Addr == "" {
		cfg.Ledger.Redis.Addr = "localhost:6379"
	}
	if cfg.Ledger.Redis.KeyPrefix == "" {
		cfg.Ledger.Redis.KeyPrefix = "meridian:ledger:"
	}

	// Pricing
	if cfg.Pricing.Counter == "" {
		cfg.Pricing.Counter = CounterWords
	}
	if cfg.Pricing.TiktokenModel == "" {
		cfg.Pricing.TiktokenModel = "gpt-4o"
	}

	// Usage
	if cfg.Usage.Backend == "" {
		cfg.Usage.Backend = UsageBackendSQLite
	}
	if cfg.Usage.SQLitePath == "" {
		cfg.Usage.SQLitePath = "data/usage.db"
	}
	if cfg.Usage.AsyncBuffer == 0 {
		cfg.Usage.AsyncBuffer = 1000
	}
	if cfg.Usage.WriteTimeout == 0 {
		cfg.Usage.WriteTimeout = 5 * time.Second
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = "info"
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = "json"
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = "/metrics"
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = "meridian"
	}
}

// Default returns a fully defaulted configuration with usage recording
// and metrics enabled.
func Default() *Config {
	cfg := &Config{}
	cfg.Usage.Enabled = true
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}
