package types

// Event is the wire form of a protocol event: a dotted type name and a flat
// string attribute map. Events are appended to the node's log only after the
// transaction that produced them commits.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
