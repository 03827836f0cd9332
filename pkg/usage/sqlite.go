package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// journalSchema is the usage journal table. The journal is append-heavy
// and query-light, so the only indexes are the prune and query paths.
const journalSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	principal_id  TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_units   INTEGER NOT NULL,
	output_units  INTEGER NOT NULL,
	cost          REAL NOT NULL,
	accepted      INTEGER NOT NULL,
	new_total     REAL NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	latency_ms         INTEGER NOT NULL DEFAULT 0,
	time_to_first_ms   INTEGER NOT NULL DEFAULT 0,
	stream_duration_ms INTEGER NOT NULL DEFAULT 0,
	timestamp     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_timestamp ON usage_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_events_principal ON usage_events(principal_id, timestamp);
`

// SQLiteSinkConfig contains configuration for the SQLite journal.
type SQLiteSinkConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteSinkConfig returns the default journal configuration.
func DefaultSQLiteSinkConfig() *SQLiteSinkConfig {
	return &SQLiteSinkConfig{
		Path:         "data/usage.db",
		MaxOpenConns: 10,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteSink persists usage events to a SQLite journal.
type SQLiteSink struct {
	db     *sql.DB
	config *SQLiteSinkConfig
	logger *slog.Logger
}

// NewSQLiteSink opens (or creates) the journal database.
func NewSQLiteSink(config *SQLiteSinkConfig) (*SQLiteSink, error) {
	if config == nil {
		config = DefaultSQLiteSinkConfig()
	}

	logger := slog.Default().With("component", "usage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage journal: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteSink{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("usage journal initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.Exec(journalSchema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Store(ctx context.Context, ev *Event) error {
	accepted := 0
	if ev.Accepted {
		accepted = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events
			(id, kind, principal_id, model, input_units, output_units,
			 cost, accepted, new_total, error,
			 latency_ms, time_to_first_ms, stream_duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.PrincipalID, ev.Model,
		ev.InputUnits, ev.OutputUnits,
		ev.Cost, accepted, ev.NewTotal, ev.Error,
		ev.LatencyMS, ev.TimeToFirstFragmentMS, ev.StreamDurationMS,
		ev.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store usage event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Query(ctx context.Context, principalID string, since time.Time, limit int) ([]*Event, error) {
	query := `
		SELECT id, kind, principal_id, model, input_units, output_units,
		       cost, accepted, new_total, error,
		       latency_ms, time_to_first_ms, stream_duration_ms, timestamp
		FROM usage_events
		WHERE timestamp >= ?`
	args := []interface{}{since.UnixNano()}

	if principalID != "" {
		query += " AND principal_id = ?"
		args = append(args, principalID)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var kind string
		var accepted int
		var timestamp int64
		if err := rows.Scan(
			&ev.ID, &kind, &ev.PrincipalID, &ev.Model,
			&ev.InputUnits, &ev.OutputUnits,
			&ev.Cost, &accepted, &ev.NewTotal, &ev.Error,
			&ev.LatencyMS, &ev.TimeToFirstFragmentMS, &ev.StreamDurationMS,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Accepted = accepted == 1
		ev.Timestamp = time.Unix(0, timestamp).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *SQLiteSink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_events WHERE timestamp < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	return deleted, nil
}

// Close closes the journal database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
