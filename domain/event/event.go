// Package event provides the domain types and interfaces for event sourcing:
// events with metadata, the journal contract, and the id/clock sources used
// to stamp new events.
package event

import (
	"slices"
	"time"
)

// Type classifies domain events.
type Type string

// Metadata carries the provenance of an event: which aggregate it belongs
// to, which command produced it, and when it was recorded.
type Metadata struct {
	// AggregateID is the textual id of the aggregate the event belongs to.
	AggregateID string `json:"aggregate_id"`

	// CommandID identifies the command that produced this event.
	CommandID string `json:"command_id"`

	// EventID is the globally unique identifier of this event.
	EventID string `json:"event_id"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Tags are routing labels used by subscription filters.
	Tags []string `json:"tags,omitempty"`
}

// Fact is an immutable domain fact. Aggregate behaviors emit facts from
// command handlers and fold them back into state during replay.
type Fact interface {
	// EventType names the fact for persistence and filtering.
	EventType() Type
}

// Tagged is an optional interface facts implement to attach routing tags
// beyond the ones configured on their aggregate.
type Tagged interface {
	EventTags() []string
}

// Event is a recorded fact together with its metadata and its position in
// the aggregate's stream. Sequence is assigned by the journal at append
// time and is strictly increasing per aggregate with no gaps.
type Event struct {
	Meta     Metadata `json:"meta"`
	Type     Type     `json:"type"`
	Sequence uint64   `json:"sequence"`
	Data     Fact     `json:"-"`
}

// HasTag reports whether the event carries the given tag.
func (e Event) HasTag(tag string) bool {
	return slices.Contains(e.Meta.Tags, tag)
}
