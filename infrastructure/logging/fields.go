package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// Common field constructors for runtime logging.

// AggregateID adds an aggregate id field.
func AggregateID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("aggregate_id", id)
	}
}

// Kind adds the aggregate kind field.
func Kind(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("kind", name)
	}
}

// CommandID adds a command id field.
func CommandID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("command_id", id)
	}
}

// EventID adds an event id field.
func EventID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_id", id)
	}
}

// EventType adds an event type field.
func EventType(t string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event_type", t)
	}
}

// Sequence adds a sequence number field.
func Sequence(seq uint64) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("sequence", int64(seq))
	}
}

// Projection adds a projection name field.
func Projection(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("projection", name)
	}
}

// EventCount adds an event count field.
func EventCount(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("events", n)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}
