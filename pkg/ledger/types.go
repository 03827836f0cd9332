package ledger

import (
	"time"
)

// Status is the administrative state of a ledger record.
type Status string

const (
	// StatusActive accepts charges.
	StatusActive Status = "active"

	// StatusSuspended rejects all charges. Suspension is an external
	// administrative transition; the ledger respects it but never
	// triggers it on its own.
	StatusSuspended Status = "suspended"
)

// DurationClass selects the accumulation window for a ledger record.
type DurationClass string

const (
	// DurationDaily resets accumulated cost every 24 hours.
	DurationDaily DurationClass = "daily"

	// DurationWeekly resets accumulated cost every 7 days.
	DurationWeekly DurationClass = "weekly"

	// DurationMonthly resets accumulated cost every 30 days. This is a
	// fixed 30-day approximation, not calendar-month aware.
	DurationMonthly DurationClass = "monthly"
)

// Valid reports whether the duration class is one of the known values.
func (d DurationClass) Valid() bool {
	switch d {
	case DurationDaily, DurationWeekly, DurationMonthly:
		return true
	}
	return false
}

// DefaultUnlimitedBudget is the cap synthesized for principals that have
// never been configured: effectively unlimited but still representable in
// JSON and on the wire.
const DefaultUnlimitedBudget = 1e9

// Record is the ledger state for a single principal. It is the only entity
// in the system with a lifetime longer than one request; it is owned by
// the backing store and mutated only through charge transitions or
// explicit administrative writes.
//
// Invariants:
//   - CurrentCost equals the sum of CostByModel values after any
//     successful charge
//   - WindowStart only moves forward, never backward
type Record struct {
	// PrincipalID is the billable entity this record tracks.
	PrincipalID string `json:"principal_id"`

	// TotalBudget is the spending cap in USD for one window. Positive.
	TotalBudget float64 `json:"total_budget"`

	// Duration selects the accumulation window.
	Duration DurationClass `json:"duration"`

	// CurrentCost is the cost accumulated in the current window (USD).
	CurrentCost float64 `json:"current_cost"`

	// CostByModel breaks CurrentCost down by model identifier.
	CostByModel map[string]float64 `json:"cost_by_model"`

	// WindowStart is when the current accumulation window began.
	WindowStart time.Time `json:"window_start"`

	// Status is the administrative state (active or suspended).
	Status Status `json:"status"`

	// CreatedAt is when the record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	copied := *r
	copied.CostByModel = make(map[string]float64, len(r.CostByModel))
	for model, cost := range r.CostByModel {
		copied.CostByModel[model] = cost
	}
	return &copied
}

// ModelCostSum returns the sum of the per-model cost breakdown.
func (r *Record) ModelCostSum() float64 {
	var sum float64
	for _, cost := range r.CostByModel {
		sum += cost
	}
	return sum
}

// ChargeRequest describes one completed unit of work to be charged.
// Ephemeral; never persisted.
type ChargeRequest struct {
	// PrincipalID identifies the ledger record to charge.
	PrincipalID string

	// Model is the model identifier the work ran against.
	Model string

	// InputUnits is the billable input unit count.
	InputUnits int

	// OutputUnits is the billable output unit count.
	OutputUnits int
}

// ChargeResult is the outcome of a charge attempt.
type ChargeResult struct {
	// NewTotal is the accumulated cost after the attempt. For rejected
	// charges this is the unchanged persisted total.
	NewTotal float64

	// Amount is the cost computed for this unit of work.
	Amount float64

	// Accepted reports whether the charge was admitted.
	Accepted bool

	// WindowReset reports whether this charge began a new window.
	WindowReset bool
}
