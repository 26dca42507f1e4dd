package event

import "errors"

// Domain errors for journal operations.
var (
	// ErrJournalFailure marks storage-level faults while appending or
	// replaying. Backends join their underlying error onto it.
	ErrJournalFailure = errors.New("journal failure")

	// ErrInvalidEvent is returned when an event is malformed.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnregisteredType is returned when a durable backend decodes an
	// event whose type has not been registered with the codec.
	ErrUnregisteredType = errors.New("event type not registered")
)
