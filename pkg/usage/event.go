package usage

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes how the charged work was delivered.
type Kind string

const (
	// KindCompletion is a non-streaming request charged from its full
	// response.
	KindCompletion Kind = "completion"

	// KindStreamCompletion is a streamed request charged once at stream
	// end.
	KindStreamCompletion Kind = "stream_completion"
)

// Event is one charged (or rejected) unit of work.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Kind is how the work was delivered.
	Kind Kind `json:"kind"`

	// PrincipalID is the charged principal.
	PrincipalID string `json:"principal_id"`

	// Model is the model the work ran against.
	Model string `json:"model"`

	// InputUnits and OutputUnits are the unit counts the charge was
	// priced from.
	InputUnits  int `json:"input_units"`
	OutputUnits int `json:"output_units"`

	// Cost is the charged amount in USD. Zero for rejected work.
	Cost float64 `json:"cost"`

	// Accepted reports whether the ledger admitted the charge.
	Accepted bool `json:"accepted"`

	// NewTotal is the principal's accumulated cost after the charge, as
	// reported by the ledger. Unset for rejected work.
	NewTotal float64 `json:"new_total,omitempty"`

	// Error carries the billing failure, if the charge could not be
	// settled at all.
	Error string `json:"error,omitempty"`

	// LatencyMS is how long the ledger charge took.
	LatencyMS int64 `json:"latency_ms"`

	// TimeToFirstFragmentMS and StreamDurationMS describe streamed work:
	// delay until the first observed event, and first to last event. Zero
	// for non-streaming events.
	TimeToFirstFragmentMS int64 `json:"time_to_first_fragment_ms,omitempty"`
	StreamDurationMS      int64 `json:"stream_duration_ms,omitempty"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(kind Kind, principalID, model string) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		PrincipalID: principalID,
		Model:       model,
		Timestamp:   time.Now().UTC(),
	}
}
