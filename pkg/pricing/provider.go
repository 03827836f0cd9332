package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider holds the active pricing table and supports atomic hot-swapping
// when the pricing file changes on disk. Readers always see a complete
// table; a reload either fully replaces the table or leaves the previous
// one in place.
type Provider struct {
	path    string
	table   atomic.Pointer[Table]
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// debounce interval between a file event and the reload attempt,
	// to coalesce editor write bursts
	debounce time.Duration
}

// NewProvider creates a provider seeded with the given table.
// If path is non-empty, Watch can be used to hot-reload from that file.
func NewProvider(path string, table *Table, logger *slog.Logger) *Provider {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = slog.Default().With("component", "pricing.provider")
	}

	p := &Provider{
		path:     path,
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}
	p.table.Store(table)
	return p
}

// Table returns the current pricing table.
func (p *Provider) Table() *Table {
	return p.table.Load()
}

// Calculator returns a calculator over the current table. The calculator
// is a snapshot: it keeps pricing stable for the duration of one unit of
// work even if a reload happens mid-flight.
func (p *Provider) Calculator() *Calculator {
	return NewCalculator(p.Table())
}

// Reload re-reads the pricing file and swaps the table. The previous table
// stays active if the file cannot be read or parsed.
func (p *Provider) Reload() error {
	if p.path == "" {
		return fmt.Errorf("no pricing file configured")
	}

	table, err := LoadTable(p.path)
	if err != nil {
		return err
	}

	p.table.Store(table)
	p.logger.Info("pricing table reloaded",
		"path", p.path,
		"models", len(table.entries),
	)
	return nil
}

// Watch blocks watching the pricing file for changes, reloading the table
// on each write. It returns when the context is cancelled. Reload failures
// are logged and the previous table stays active.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		return fmt.Errorf("no pricing file configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	p.watcher = watcher

	if err := watcher.Add(p.path); err != nil {
		return fmt.Errorf("failed to watch pricing file %q: %w", p.path, err)
	}

	p.logger.Info("pricing watcher started", "path", p.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pricing watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Coalesce rapid write bursts into one reload.
			pending = time.After(p.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("pricing watcher error", "error", err)

		case <-pending:
			pending = nil
			if err := p.Reload(); err != nil {
				p.logger.Error("pricing reload failed, keeping previous table",
					"path", p.path,
					"error", err,
				)
			}
		}
	}
}
