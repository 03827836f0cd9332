// Package ledger implements the per-principal budget ledger and quota
// enforcement engine.
//
// # Overview
//
// Each billable principal (user or project) owns exactly one ledger record
// holding its spending cap, the cost accumulated in the current time
// window, a per-model cost breakdown, and the window start timestamp. The
// ledger admits or rejects charges against the cap and resets the
// accumulated cost when the window elapses.
//
// # Atomicity
//
// Charge is a read-check-write sequence (read record, reset window if
// elapsed, check cap, accumulate, persist) that must be indivisible with
// respect to concurrent charges for the same principal. A naive
// read-then-write split lets two concurrent requests both observe a total
// under the cap and both write, overshooting the cap.
//
// The state transition itself is the pure function ApplyCharge; atomicity
// comes from the backing store. Each store executes the transition under
// its own single-key primitive:
//
//   - memory: per-principal mutex
//   - sqlite: immediate transaction on a single-writer connection
//   - redis: server-side Lua script keyed by principal
//
// Charges for distinct principals never contend.
//
// # Usage
//
//	store := store.NewMemoryStore()
//	led := ledger.New(store, pricing.NewCalculator(table), logger)
//
//	rec, err := led.Ensure(ctx, "project-a", 10.00, ledger.DurationDaily)
//
//	result, err := led.Charge(ctx, ledger.ChargeRequest{
//	    PrincipalID: "project-a",
//	    Model:       "gpt-4o",
//	    InputUnits:  1200,
//	    OutputUnits: 340,
//	})
//	if errors.Is(err, ledger.ErrQuotaExceeded) {
//	    // cap reached - caller decides whether to still serve the
//	    // (now unbilled) unit of work
//	}
//
// # Reads
//
// Read is a non-transactional snapshot. It may lag concurrent writers and
// returns 0 for principals without a record; it is informational, never
// authorizing.
package ledger
