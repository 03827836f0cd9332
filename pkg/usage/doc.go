// Package usage records per-request usage events for audit and offline
// reconciliation.
//
// The ledger holds only running totals; this package keeps the per-event
// trail behind them. Events are written asynchronously so recording never
// blocks the request path, and a cron-scheduled pruner keeps the journal
// bounded.
//
// Recording is best-effort: a full buffer drops the event with a warning
// rather than stalling a request. The ledger remains the authority on
// accumulated cost.
package usage
