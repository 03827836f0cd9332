// Package stream turns streamed model responses into exactly one terminal
// charge.
//
// Streamed responses arrive as many small fragments with no total cost
// known up front. Charging per fragment would multiply ledger round-trips
// and make partial failures ambiguous, so this package buffers instead:
// a Collector owned by a single request accumulates fragments as they are
// relayed to the client, and Finish issues one charge for the whole
// response after the stream ends.
//
// The wire format is decoded once at the boundary into a small tagged
// event union (ContentFragment, UsageFinal, ErrorEvent, Done); everything
// downstream switches on event type instead of re-parsing payloads.
//
// # Billing never truncates the data plane
//
// A charge failure at stream end is logged and reported out-of-band. The
// client has already received the content; cutting the connection would
// not un-serve it.
package stream
