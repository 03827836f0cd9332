package stream

// Event is one decoded item from a model response stream. Implementations
// form a closed tagged union; consumers switch on the concrete type.
type Event interface {
	isEvent()
}

// ContentFragment is one piece of streamed response text, in arrival
// order. Model may be empty on fragments that do not carry it; the first
// fragment of most providers does.
type ContentFragment struct {
	// Model is the model identifier as reported by the upstream, if the
	// fragment carries one.
	Model string

	// Text is the fragment's content delta.
	Text string
}

func (ContentFragment) isEvent() {}

// UsageFinal carries upstream-reported unit counts, usually attached to
// the terminal chunk of a stream. When present it is authoritative and
// preferred over counting the buffered content locally.
type UsageFinal struct {
	// Model is the model identifier, if the terminal chunk carries one.
	Model string

	// InputUnits is the upstream's count of prompt units.
	InputUnits int

	// OutputUnits is the upstream's count of completion units.
	OutputUnits int
}

func (UsageFinal) isEvent() {}

// ErrorEvent is an in-band error reported by the upstream mid-stream.
// The stream may still terminate normally afterwards; fragments received
// before the error remain chargeable.
type ErrorEvent struct {
	// Message is the upstream's error description.
	Message string
}

func (ErrorEvent) isEvent() {}

// Done marks normal end of stream.
type Done struct{}

func (Done) isEvent() {}
