package types

// Event represents a typed event emitted by an engine when a state change
// commits.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
