package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a command or query targets an aggregate
	// that has no events.
	ErrNotFound = errors.New("aggregate not found")

	// ErrNoEvents is returned when an accepted command produced no facts.
	// Accepting with an empty sequence is a programmer error: acceptance
	// must record at least one fact, rejection must use Reject.
	ErrNoEvents = errors.New("accepted command produced no events")
)

// SequenceError reports a non-monotonic event sequence during fold. It is a
// programming error: the offending worker crashes rather than fold out of
// order.
type SequenceError struct {
	AggregateID string
	Last        uint64
	Got         uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("aggregate %s: sequence %d does not follow %d", e.AggregateID, e.Got, e.Last)
}
