// Package server provides the HTTP API for the metering engine.
//
// The server exposes budget administration, charge settlement, and usage
// queries over JSON, plus the operational endpoints (health, metrics). It
// ties the ledger, meter, and usage journal together and manages server
// lifecycle including start, graceful shutdown, and OS signals.
//
// # Basic Usage
//
// Creating and starting a server:
//
//	import (
//	    "context"
//	    "tollgate-hq/meridian/pkg/config"
//	    "tollgate-hq/meridian/pkg/server"
//	)
//
//	srv := server.New(cfg, server.Deps{
//	    Ledger: led,
//	    Meter:  m,
//	})
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Routes
//
// The server exposes the following HTTP endpoints:
//
//   - GET  /v1/budgets/{principal}          - Budget record (synthesized if unset)
//   - PUT  /v1/budgets/{principal}          - Set or replace a budget
//   - GET  /v1/budgets/{principal}/spend    - Accumulated cost snapshot
//   - POST /v1/budgets/{principal}/suspend  - Reject all further charges
//   - POST /v1/budgets/{principal}/resume   - Reactivate a suspended budget
//   - POST /v1/charges                      - Settle one completed unit of work
//   - GET  /v1/usage                        - Query the usage journal
//   - GET  /healthz                         - Liveness probe (always 200)
//   - GET  /metrics                         - Prometheus exposition (path configurable)
//
// Responses use a uniform envelope: {"status": "success", "data": ...} on
// success and {"status": "error", "message": ...} on failure. A charge
// rejected by quota returns 402, a suspended principal 403, a missing
// budget record 404, and a store outage 503.
//
// # Graceful Shutdown
//
// Start blocks until the context is cancelled, a SIGTERM/SIGINT arrives,
// or Shutdown is called; active requests get the configured shutdown
// timeout to complete.
package server
