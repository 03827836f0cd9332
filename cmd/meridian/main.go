// Meridian is a budget ledger and quota enforcement engine for LLM API
// usage.
//
// It meters usage per principal (user, project, or API key), enforces
// spending caps over rolling windows, and keeps a per-event usage
// journal:
//   - Atomic charge accounting with no lost updates under concurrency
//   - Daily, weekly, and monthly budget windows with lazy reset
//   - Streamed responses charged exactly once at stream end
//   - Pluggable ledger stores: memory, SQLite, Redis
//   - Prometheus metrics and a SQLite usage journal with retention
//
// Usage:
//
//	# Start the engine with default configuration
//	meridian run
//
//	# Start with a custom configuration file
//	meridian run --config /etc/meridian/meridian.yaml
//
//	# Show version information
//	meridian version
package main

func main() {
	Execute()
}
