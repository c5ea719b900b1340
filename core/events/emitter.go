package events

// Event represents a structured state change emitted by the engines.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (gateway, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
