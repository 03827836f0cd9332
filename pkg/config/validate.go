package config

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"tollgate-hq/meridian/pkg/ledger"
)

// Validate checks the configuration for inconsistencies. It is called
// after defaults and env overrides, so every field it reads is final.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address must not be empty")
	}

	switch cfg.Ledger.Backend {
	case LedgerBackendMemory:
	case LedgerBackendSQLite:
		if cfg.Ledger.SQLite.Path == "" {
			return fmt.Errorf("ledger.sqlite.path is required for the sqlite backend")
		}
	case LedgerBackendRedis:
		if cfg.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}

	if cfg.Ledger.DefaultCap <= 0 {
		return fmt.Errorf("ledger.default_cap must be positive, got %v", cfg.Ledger.DefaultCap)
	}
	if !ledger.DurationClass(cfg.Ledger.DefaultDuration).Valid() {
		return fmt.Errorf("unknown ledger duration %q", cfg.Ledger.DefaultDuration)
	}

	switch cfg.Pricing.Counter {
	case CounterWords, CounterTiktoken:
	default:
		return fmt.Errorf("unknown pricing counter %q", cfg.Pricing.Counter)
	}

	if cfg.Usage.Enabled {
		switch cfg.Usage.Backend {
		case UsageBackendMemory:
		case UsageBackendSQLite:
			if cfg.Usage.SQLitePath == "" {
				return fmt.Errorf("usage.sqlite_path is required for the sqlite backend")
			}
		default:
			return fmt.Errorf("unknown usage backend %q", cfg.Usage.Backend)
		}
		if cfg.Usage.RetentionDays < 0 {
			return fmt.Errorf("usage.retention_days must not be negative")
		}
		if cfg.Usage.PruneSchedule != "" {
			if _, err := cron.ParseStandard(cfg.Usage.PruneSchedule); err != nil {
				return fmt.Errorf("invalid usage.prune_schedule %q: %w", cfg.Usage.PruneSchedule, err)
			}
		}
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Telemetry.Logging.Level)
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Telemetry.Logging.Format)
	}

	return nil
}
