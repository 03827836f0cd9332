package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tollgate-hq/meridian/pkg/config"
	"tollgate-hq/meridian/pkg/ledger"
	"tollgate-hq/meridian/pkg/ledger/store"
	"tollgate-hq/meridian/pkg/meter"
	"tollgate-hq/meridian/pkg/pricing"
	"tollgate-hq/meridian/pkg/server"
	"tollgate-hq/meridian/pkg/telemetry/logging"
	"tollgate-hq/meridian/pkg/telemetry/metrics"
	"tollgate-hq/meridian/pkg/usage"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the metering engine",
	Long: `Start the metering engine with the specified configuration.

The engine opens the configured ledger store, loads the pricing table,
and serves the metrics and health endpoints until interrupted.

Examples:
  # Start with default config
  meridian run

  # Start with custom config
  meridian run --config /etc/meridian/meridian.yaml

  # Override listen address
  meridian run --listen 0.0.0.0:9090

  # Validate config without starting
  meridian run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	}); err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Meridian v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pricing table, optionally hot-reloaded from disk
	provider, err := buildPricingProvider(ctx, cfg)
	if err != nil {
		return err
	}
	counter := buildCounter(cfg)

	// Ledger store
	ledgerStore, err := openLedgerStore(cfg)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()
	fmt.Printf("✓ Ledger store initialized (%s)\n", cfg.Ledger.Backend)

	led := ledger.New(ledgerStore, provider.Calculator(), nil)

	// Usage journal
	var recorder *usage.Recorder
	var sink usage.Sink
	if cfg.Usage.Enabled {
		sink, err = openUsageSink(cfg)
		if err != nil {
			return err
		}
		defer sink.Close()

		recorder = usage.NewRecorder(sink, &usage.RecorderConfig{
			Enabled:      true,
			AsyncBuffer:  cfg.Usage.AsyncBuffer,
			WriteTimeout: cfg.Usage.WriteTimeout,
		})
		defer recorder.Close()

		pruner := usage.NewPruner(sink, &usage.RetentionConfig{
			RetentionDays: cfg.Usage.RetentionDays,
			PruneSchedule: cfg.Usage.PruneSchedule,
		})
		scheduler := usage.NewScheduler(pruner)
		if err := scheduler.Start(ctx); err != nil {
			slog.Warn("failed to start retention scheduler", "error", err)
		} else {
			defer scheduler.Stop()
		}
		fmt.Printf("✓ Usage journal initialized (%s)\n", cfg.Usage.Backend)
	}

	// Metrics
	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&metrics.Config{
			Namespace: cfg.Telemetry.Metrics.Namespace,
		})
	}

	m := meter.New(led, counter, recorder, collector, &meter.Config{
		DefaultCap:      cfg.Ledger.DefaultCap,
		DefaultDuration: ledger.DurationClass(cfg.Ledger.DefaultDuration),
	})

	srv := server.New(cfg, server.Deps{
		Ledger:  led,
		Meter:   m,
		Sink:    sink,
		Metrics: collector,
	})

	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Server stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", cfgFile)
		return config.Default(), nil
	}
	return config.LoadWithEnvOverrides(cfgFile)
}

func buildPricingProvider(ctx context.Context, cfg *config.Config) (*pricing.Provider, error) {
	table := pricing.DefaultTable()
	if cfg.Pricing.TablePath != "" {
		loaded, err := pricing.LoadTable(cfg.Pricing.TablePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load pricing table: %w", err)
		}
		table = loaded
	}

	provider := pricing.NewProvider(cfg.Pricing.TablePath, table, nil)
	if cfg.Pricing.Watch && cfg.Pricing.TablePath != "" {
		if err := provider.Watch(ctx); err != nil {
			slog.Warn("failed to watch pricing table, hot reload disabled", "error", err)
		}
	}
	return provider, nil
}

func buildCounter(cfg *config.Config) pricing.UnitCounter {
	if cfg.Pricing.Counter == config.CounterTiktoken {
		return pricing.NewTiktokenCounter(cfg.Pricing.TiktokenModel)
	}
	return pricing.WordCounter{}
}

func openLedgerStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerBackendMemory:
		return store.NewMemoryStore(), nil
	case config.LedgerBackendSQLite:
		return store.NewSQLiteStoreWithConfig(store.SQLiteConfig{
			DBPath:      cfg.Ledger.SQLite.Path,
			BusyTimeout: cfg.Ledger.SQLite.BusyTimeout,
		})
	case config.LedgerBackendRedis:
		return store.NewRedisStore(store.RedisConfig{
			Addr:      cfg.Ledger.Redis.Addr,
			Password:  cfg.Ledger.Redis.Password,
			DB:        cfg.Ledger.Redis.DB,
			KeyPrefix: cfg.Ledger.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger.Backend)
	}
}

func openUsageSink(cfg *config.Config) (usage.Sink, error) {
	switch cfg.Usage.Backend {
	case config.UsageBackendMemory:
		return usage.NewMemorySink(), nil
	case config.UsageBackendSQLite:
		return usage.NewSQLiteSink(&usage.SQLiteSinkConfig{
			Path: cfg.Usage.SQLitePath,
		})
	default:
		return nil, fmt.Errorf("unsupported usage backend: %s", cfg.Usage.Backend)
	}
}

