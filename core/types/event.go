package types

// Event represents a structured state change emitted by the marketplace
// engines for downstream subscribers (gateway, indexers).
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
