package ledger

import (
	"context"
)

// Store is the persistence contract for ledger records. Implementations
// must be safe for concurrent use and must make Charge atomic with respect
// to other Charge calls for the same principal; charges for distinct
// principals must not contend.
//
// Transient failures are reported wrapped in ErrStoreUnavailable so
// callers can retry the whole transaction.
type Store interface {
	// Get returns the record for a principal, or nil if none exists.
	Get(ctx context.Context, principalID string) (*Record, error)

	// Create persists rec only if no record exists for its principal.
	// Returns true if the record was created, false if one already
	// existed. An existing record is never modified.
	Create(ctx context.Context, rec *Record) (bool, error)

	// Put unconditionally overwrites the record for rec's principal.
	// Administrative path only; racing a Put against concurrent charges
	// can lose their contribution.
	Put(ctx context.Context, rec *Record) error

	// Charge executes one charge transition atomically. The record is
	// read, advanced through ApplyCharge and, if the charge was
	// accepted, persisted - all under the store's single-key primitive.
	// Returns ErrNoBudget if no record exists, ErrBudgetSuspended if
	// the record is suspended.
	Charge(ctx context.Context, principalID string, args ChargeArgs) (*Outcome, error)

	// SetStatus atomically sets the administrative status of a record.
	// Returns ErrNoBudget if no record exists.
	SetStatus(ctx context.Context, principalID string, status Status) error

	// List returns all persisted records.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes the record for a principal. No-op if absent.
	// External administrative action; the metering core never deletes.
	Delete(ctx context.Context, principalID string) error

	// Close releases resources held by the store.
	Close() error
}
