package events

// Event represents a structured state change emitted by the accounting core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. monitoring,
// indexers). Engines emit exactly one event per committed state change, in
// commit order.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose caller did not wire an emitter.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
