package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"tollgate-hq/meridian/pkg/ledger"
)

// SQLiteStore implements ledger.Store on a SQLite database. Suitable for
// single-instance deployments that need ledger state to survive restarts.
//
// The database runs in WAL mode with a single writer connection; each
// charge executes as one transaction, which makes the read-check-write
// sequence atomic with respect to every other charge.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer; one connection also makes
	// each Charge transaction a natural serialization point.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db, dbPath: cfg.DBPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_records (
		principal_id  TEXT PRIMARY KEY,
		total_budget  REAL NOT NULL,
		duration      TEXT NOT NULL,
		current_cost  REAL NOT NULL,
		cost_by_model TEXT NOT NULL,
		window_start  INTEGER NOT NULL,
		status        TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the record for a principal, or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, principalID string) (*ledger.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT principal_id, total_budget, duration, current_cost, cost_by_model,
		        window_start, status, created_at, updated_at
		 FROM ledger_records WHERE principal_id = ?`, principalID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Create inserts rec only if no record exists for its principal.
func (s *SQLiteStore) Create(ctx context.Context, rec *ledger.Record) (bool, error) {
	byModel, err := json.Marshal(rec.CostByModel)
	if err != nil {
		return false, fmt.Errorf("failed to marshal cost breakdown: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_records
		 (principal_id, total_budget, duration, current_cost, cost_by_model,
		  window_start, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(principal_id) DO NOTHING`,
		rec.PrincipalID, rec.TotalBudget, string(rec.Duration), rec.CurrentCost,
		string(byModel), rec.WindowStart.UnixNano(), string(rec.Status),
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("%w: create failed: %v", ledger.ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: create failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return affected > 0, nil
}

// Put unconditionally overwrites the record for rec's principal.
func (s *SQLiteStore) Put(ctx context.Context, rec *ledger.Record) error {
	byModel, err := json.Marshal(rec.CostByModel)
	if err != nil {
		return fmt.Errorf("failed to marshal cost breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_records
		 (principal_id, total_budget, duration, current_cost, cost_by_model,
		  window_start, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET
		   total_budget = excluded.total_budget,
		   duration = excluded.duration,
		   current_cost = excluded.current_cost,
		   cost_by_model = excluded.cost_by_model,
		   window_start = excluded.window_start,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		rec.PrincipalID, rec.TotalBudget, string(rec.Duration), rec.CurrentCost,
		string(byModel), rec.WindowStart.UnixNano(), string(rec.Status),
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: put failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Charge executes one charge transition inside a transaction.
func (s *SQLiteStore) Charge(ctx context.Context, principalID string, args ledger.ChargeArgs) (*ledger.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin failed: %v", ledger.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT principal_id, total_budget, duration, current_cost, cost_by_model,
		        window_start, status, created_at, updated_at
		 FROM ledger_records WHERE principal_id = ?`, principalID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNoBudget
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load failed: %v", ledger.ErrStoreUnavailable, err)
	}

	outcome, err := ledger.ApplyCharge(rec, args)
	if err != nil {
		return nil, err
	}

	if outcome.Accepted {
		byModel, err := json.Marshal(outcome.Record.CostByModel)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cost breakdown: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_records
			 SET current_cost = ?, cost_by_model = ?, window_start = ?, updated_at = ?
			 WHERE principal_id = ?`,
			outcome.Record.CurrentCost, string(byModel),
			outcome.Record.WindowStart.UnixNano(), outcome.Record.UpdatedAt.UnixNano(),
			principalID)
		if err != nil {
			return nil, fmt.Errorf("%w: update failed: %v", ledger.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return outcome, nil
}

// SetStatus atomically sets the administrative status of a record.
func (s *SQLiteStore) SetStatus(ctx context.Context, principalID string, status ledger.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_records SET status = ?, updated_at = ? WHERE principal_id = ?`,
		string(status), time.Now().UnixNano(), principalID)
	if err != nil {
		return fmt.Errorf("%w: status update failed: %v", ledger.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: status update failed: %v", ledger.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return ledger.ErrNoBudget
	}
	return nil
}

// List returns all persisted records.
func (s *SQLiteStore) List(ctx context.Context) ([]*ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal_id, total_budget, duration, current_cost, cost_by_model,
		        window_start, status, created_at, updated_at
		 FROM ledger_records ORDER BY principal_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list failed: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []*ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan failed: %v", ledger.ErrStoreUnavailable, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return records, nil
}

// Delete removes the record for a principal. No-op if absent.
func (s *SQLiteStore) Delete(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger_records WHERE principal_id = ?`, principalID)
	if err != nil {
		return fmt.Errorf("%w: delete failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ledger.Record, error) {
	var (
		rec         ledger.Record
		duration    string
		status      string
		byModel     string
		windowStart int64
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(&rec.PrincipalID, &rec.TotalBudget, &duration, &rec.CurrentCost,
		&byModel, &windowStart, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Duration = ledger.DurationClass(duration)
	rec.Status = ledger.Status(status)
	rec.WindowStart = time.Unix(0, windowStart)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)

	if err := json.Unmarshal([]byte(byModel), &rec.CostByModel); err != nil {
		return nil, fmt.Errorf("corrupt cost breakdown for %s: %w", rec.PrincipalID, err)
	}
	if rec.CostByModel == nil {
		rec.CostByModel = make(map[string]float64)
	}
	return &rec, nil
}
