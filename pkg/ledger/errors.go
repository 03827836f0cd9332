package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ledger's failure taxonomy. Policy rejections
// (quota, suspension) are expected outcomes reported as typed conditions,
// not system faults; ErrStoreUnavailable is transient and safe to retry
// because the charge transaction is all-or-nothing.
var (
	// ErrNoBudget is returned when a charge targets a principal with no
	// ledger record. Ensure must run before the first charge.
	ErrNoBudget = errors.New("no budget record for principal")

	// ErrBudgetSuspended is returned when the record's administrative
	// status rejects all charges.
	ErrBudgetSuspended = errors.New("budget suspended")

	// ErrQuotaExceeded is returned when admitting a charge would push the
	// accumulated cost above the cap. The persisted state is untouched.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrStoreUnavailable wraps transient backing-store failures. The
	// whole charge transaction may be retried.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// QuotaExceededError carries diagnostics for a rejected charge.
// errors.Is(err, ErrQuotaExceeded) matches it.
type QuotaExceededError struct {
	// PrincipalID is the principal whose cap was reached.
	PrincipalID string

	// Limit is the configured cap in USD.
	Limit float64

	// WouldBeTotal is what the accumulated cost would have been had the
	// charge been admitted.
	WouldBeTotal float64

	// Amount is the cost of the rejected charge.
	Amount float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: would-be total %.6f over limit %.6f",
		e.PrincipalID, e.WouldBeTotal, e.Limit)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) hold.
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// InvariantError reports a ledger record whose per-model breakdown no
// longer sums to its accumulated cost. This is a programming or storage
// fault, fatal for the record; it is surfaced loudly and never silently
// repaired.
type InvariantError struct {
	PrincipalID string
	CurrentCost float64
	ModelSum    float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated for %s: current_cost=%.9f but cost_by_model sums to %.9f",
		e.PrincipalID, e.CurrentCost, e.ModelSum)
}
