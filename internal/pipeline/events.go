package pipeline

// EventType tags one generation event.
type EventType int

const (
	// EventDelta carries one incremental chunk of model text, already
	// markup-stripped for display.
	EventDelta EventType = iota
	// EventBuilding signals that at least one complete work block was found
	// and enqueue work is about to begin.
	EventBuilding
	// EventOutcome reports whether the delivery queue accepted the blocks.
	EventOutcome
	// EventError is terminal: the stream failed before completion.
	EventError
	// EventDone is terminal: generation and delivery finished.
	EventDone
)

// Event is one generation pipeline event. Exactly one terminal event
// (EventError or EventDone) ends every generation, always last.
type Event struct {
	Type    EventType
	Text    string // EventDelta
	Pushed  bool   // EventOutcome
	Message string // EventError
}
