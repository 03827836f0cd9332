// Package meter orchestrates metering for one unit of LLM work.
//
// The ledger enforces caps, pricing turns units into dollars, stream
// collects fragments, usage journals the outcome. The meter is the one
// place those are composed: Begin admits work against the principal's
// budget, RecordCompletion settles a non-streaming response, and Stream
// hands out a collector that settles a streamed response exactly once at
// stream end.
//
// Billing failures are deliberately decoupled from serving: settle
// methods return the charge outcome and its error side by side, and the
// caller decides whether already-produced content still goes out. The
// engine never retroactively withholds a response it has served.
package meter
