// Package aggregate provides the aggregate-side domain types: command
// envelopes and the instance that folds a journal stream into state.
package aggregate

// Envelope bundles a command with the id of the aggregate it targets, so
// routing never reflects into the command value itself. CommandID may be
// supplied by the client; the manager assigns one on receipt otherwise.
type Envelope struct {
	AggregateID string
	CommandID   string
	Command     any
}

// NewEnvelope addresses a command to an aggregate.
func NewEnvelope(aggregateID string, cmd any) Envelope {
	return Envelope{AggregateID: aggregateID, Command: cmd}
}

// WithCommandID returns a copy of the envelope carrying a client-chosen
// command id.
func (e Envelope) WithCommandID(id string) Envelope {
	e.CommandID = id
	return e
}
