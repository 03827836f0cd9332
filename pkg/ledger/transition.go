package ledger

import (
	"time"
)

// costEpsilon absorbs float accumulation noise in the cap comparison, so a
// charge that lands exactly on the cap is admitted.
const costEpsilon = 1e-9

// invariantEpsilon is the tolerance for the current_cost == sum(by_model)
// check after a transition.
const invariantEpsilon = 1e-6

// ChargeArgs are the inputs to one charge transition.
type ChargeArgs struct {
	// Model is the model identifier the cost accrues against.
	Model string

	// Amount is the pre-computed cost of the unit of work in USD.
	Amount float64

	// Now is the transaction timestamp used for window decisions.
	Now time.Time
}

// Outcome is the result of one charge transition.
type Outcome struct {
	// Record is the post-transition record. For rejected charges it is
	// the input record, unchanged: a rejection never mutates state, not
	// even a pending window reset.
	Record *Record

	// Accepted reports whether the charge was admitted.
	Accepted bool

	// WouldBeTotal is the total the charge would have produced. For
	// accepted charges it equals Record.CurrentCost.
	WouldBeTotal float64

	// Reset reports whether the transition began a new window.
	Reset bool
}

// ApplyCharge advances a ledger record through one charge transition.
//
// The sequence: reject suspended records; reset the window if it has
// elapsed; reject if the cap would be exceeded (leaving the input record
// untouched); otherwise accumulate into the total and the per-model
// breakdown. Reset and charge are one indivisible step - no observer ever
// sees a reset without the new charge's contribution.
//
// ApplyCharge is pure: it never mutates rec and has no side effects.
// Stores call it (or, for redis, a server-side port of it) under their own
// single-key atomicity primitive.
func ApplyCharge(rec *Record, args ChargeArgs) (*Outcome, error) {
	if rec == nil {
		return nil, ErrNoBudget
	}
	if rec.Status != StatusActive {
		return nil, ErrBudgetSuspended
	}

	next := rec.Clone()

	reset := WindowElapsed(next.WindowStart, next.Duration, args.Now)
	if reset {
		next.CurrentCost = 0
		next.CostByModel = make(map[string]float64)
		next.WindowStart = args.Now
	}

	wouldBe := next.CurrentCost + args.Amount
	if wouldBe > next.TotalBudget+costEpsilon {
		return &Outcome{
			Record:       rec,
			Accepted:     false,
			WouldBeTotal: wouldBe,
			Reset:        false,
		}, nil
	}

	next.CurrentCost = wouldBe
	next.CostByModel[args.Model] += args.Amount
	next.UpdatedAt = args.Now

	return &Outcome{
		Record:       next,
		Accepted:     true,
		WouldBeTotal: wouldBe,
		Reset:        reset,
	}, nil
}
