// Package store provides persistence backends for ledger records.
//
// # Overview
//
// Each backend implements ledger.Store, whose central obligation is an
// atomic single-key charge transaction: read the principal's record,
// advance it through the charge transition, persist - indivisibly with
// respect to concurrent charges for the same principal.
//
//   - MemoryStore: per-principal mutex striping, no persistence. The
//     default for tests and single-process deployments.
//   - SQLiteStore: file-backed persistence; each charge runs in an
//     immediate transaction on a single-writer connection.
//   - RedisStore: distributed deployments; the charge transition is a
//     server-side Lua script keyed by principal, so the read-check-write
//     executes inside Redis with no client-side race window.
//
// # Thread Safety
//
// All backends are safe for concurrent use. Charges for distinct
// principals never contend (per-key mutexes in memory, per-key scripts in
// redis; sqlite serializes writers but transactions stay short).
package store
