package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"tollgate-hq/meridian/pkg/pricing"
)

// Ledger enforces per-principal spending caps over a backing store.
//
// The ledger is an explicitly constructed instance - no process-wide
// singleton. Construct it once at startup with its store handle and pass
// it to callers; the only teardown is closing the store.
type Ledger struct {
	store  Store
	calc   *pricing.Calculator
	logger *slog.Logger

	// ensureGroup deduplicates concurrent first-request creates for the
	// same principal so only one Create hits the store.
	ensureGroup singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

// New creates a ledger over the given store and calculator.
// A nil calculator falls back to the built-in default pricing table.
func New(store Store, calc *pricing.Calculator, logger *slog.Logger) *Ledger {
	if calc == nil {
		calc = pricing.NewCalculator(nil)
	}
	if logger == nil {
		logger = slog.Default().With("component", "ledger")
	}
	return &Ledger{
		store:  store,
		calc:   calc,
		logger: logger,
		now:    time.Now,
	}
}

// Ensure idempotently creates the ledger record for a principal.
//
// If a record already exists it is returned unchanged: ensure never
// overwrites an existing cap and never resets accumulated cost, so a
// duplicate "first request" cannot reset a principal mid-window. If no
// record exists, one is created with zero accumulated cost, an active
// status, and a window starting now.
func (l *Ledger) Ensure(ctx context.Context, principalID string, defaultCap float64, class DurationClass) (*Record, error) {
	if principalID == "" {
		return nil, fmt.Errorf("principal id must not be empty")
	}
	if defaultCap <= 0 {
		return nil, fmt.Errorf("default cap must be positive, got %v", defaultCap)
	}
	if !class.Valid() {
		return nil, fmt.Errorf("unknown duration class %q", class)
	}

	rec, err, _ := l.ensureGroup.Do(principalID, func() (interface{}, error) {
		existing, err := l.store.Get(ctx, principalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		now := l.now()
		fresh := &Record{
			PrincipalID: principalID,
			TotalBudget: defaultCap,
			Duration:    class,
			CurrentCost: 0,
			CostByModel: make(map[string]float64),
			WindowStart: now,
			Status:      StatusActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		created, err := l.store.Create(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if created {
			l.logger.Info("ledger record created",
				"principal_id", principalID,
				"total_budget", defaultCap,
				"duration", string(class),
			)
			return fresh, nil
		}

		// Lost a create race with another process; the winner's record
		// is authoritative.
		existing, err = l.store.Get(ctx, principalID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: record vanished after create race", ErrStoreUnavailable)
		}
		return existing, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.(*Record), nil
}

// Charge prices one completed unit of work and atomically accumulates it
// into the principal's record, enforcing the cap.
//
// Rejections are typed conditions, not faults: ErrQuotaExceeded (as a
// *QuotaExceededError carrying the would-be total) when the cap would be
// exceeded, ErrBudgetSuspended for suspended records, ErrNoBudget when
// Ensure has never run for the principal. The caller decides whether a
// rejected charge still lets the underlying unit of work be served.
func (l *Ledger) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	amount, err := l.calc.Cost(req.Model, req.InputUnits, req.OutputUnits)
	if err != nil {
		return nil, err
	}

	outcome, err := l.store.Charge(ctx, req.PrincipalID, ChargeArgs{
		Model:  req.Model,
		Amount: amount,
		Now:    l.now(),
	})
	if err != nil {
		return nil, err
	}

	if !outcome.Accepted {
		return &ChargeResult{
				NewTotal: outcome.Record.CurrentCost,
				Amount:   amount,
				Accepted: false,
			}, &QuotaExceededError{
				PrincipalID:  req.PrincipalID,
				Limit:        outcome.Record.TotalBudget,
				WouldBeTotal: outcome.WouldBeTotal,
				Amount:       amount,
			}
	}

	if err := checkInvariant(outcome.Record); err != nil {
		// Fatal for this record: surface loudly, never repair.
		l.logger.Error("ledger invariant violation",
			"principal_id", req.PrincipalID,
			"error", err,
		)
		return nil, err
	}

	l.logger.Debug("charge accepted",
		"principal_id", req.PrincipalID,
		"model", req.Model,
		"amount", amount,
		"new_total", outcome.Record.CurrentCost,
		"window_reset", outcome.Reset,
	)

	return &ChargeResult{
		NewTotal:    outcome.Record.CurrentCost,
		Amount:      amount,
		Accepted:    true,
		WindowReset: outcome.Reset,
	}, nil
}

// Read returns the principal's accumulated cost as a snapshot. Principals
// without a record read as 0; Read never returns ErrNoBudget. The value
// may lag concurrent writers - it is informational, not authorizing.
func (l *Ledger) Read(ctx context.Context, principalID string) (float64, error) {
	rec, err := l.store.Get(ctx, principalID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return rec.CurrentCost, nil
}

// Get returns the full record for a principal. Principals that were never
// configured get a synthesized active record with an effectively unlimited
// cap, so read paths have a uniform shape; the synthesized record is not
// persisted.
func (l *Ledger) Get(ctx context.Context, principalID string) (*Record, error) {
	rec, err := l.store.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	now := l.now()
	return &Record{
		PrincipalID: principalID,
		TotalBudget: DefaultUnlimitedBudget,
		Duration:    DurationDaily,
		CurrentCost: 0,
		CostByModel: make(map[string]float64),
		WindowStart: now,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Set overwrites a principal's record. Administrative path: unlike Ensure
// it does replace an existing cap. The record is forced active and missing
// window metadata is filled in.
func (l *Ledger) Set(ctx context.Context, rec *Record) error {
	if rec == nil || rec.PrincipalID == "" {
		return fmt.Errorf("record with principal id required")
	}
	if rec.TotalBudget <= 0 {
		return fmt.Errorf("total budget must be positive, got %v", rec.TotalBudget)
	}
	if !rec.Duration.Valid() {
		return fmt.Errorf("unknown duration class %q", rec.Duration)
	}

	now := l.now()
	stored := rec.Clone()
	stored.Status = StatusActive
	if stored.CostByModel == nil {
		stored.CostByModel = make(map[string]float64)
	}
	if stored.WindowStart.IsZero() {
		stored.WindowStart = now
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if err := l.store.Put(ctx, stored); err != nil {
		return err
	}

	l.logger.Info("ledger record set",
		"principal_id", stored.PrincipalID,
		"total_budget", stored.TotalBudget,
		"duration", string(stored.Duration),
	)
	return nil
}

// Suspend marks a principal's record suspended; all subsequent charges
// are rejected with ErrBudgetSuspended until Resume.
func (l *Ledger) Suspend(ctx context.Context, principalID string) error {
	return l.store.SetStatus(ctx, principalID, StatusSuspended)
}

// Resume reactivates a suspended record.
func (l *Ledger) Resume(ctx context.Context, principalID string) error {
	return l.store.SetStatus(ctx, principalID, StatusActive)
}

// checkInvariant verifies current_cost == sum(cost_by_model) within float
// tolerance.
func checkInvariant(rec *Record) error {
	sum := rec.ModelCostSum()
	if math.Abs(sum-rec.CurrentCost) > invariantEpsilon {
		return &InvariantError{
			PrincipalID: rec.PrincipalID,
			CurrentCost: rec.CurrentCost,
			ModelSum:    sum,
		}
	}
	return nil
}
