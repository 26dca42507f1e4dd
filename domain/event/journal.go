package event

import "context"

// Filter selects a subset of the journal's feed for a subscription.
// The zero value matches every event.
type Filter struct {
	// Tags matches events carrying at least one of the listed tags.
	// Empty matches all events.
	Tags []string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range f.Tags {
		if e.HasTag(tag) {
			return true
		}
	}
	return false
}

// Journal is the append-only per-aggregate event log the runtime writes to.
// Implementations may be in-memory, PostgreSQL, BadgerDB, SQLite, or any
// other backend.
//
// Contract: Append assigns contiguous sequence numbers starting at 1 per
// aggregate id, mutating the passed slice in place; Load replays a single
// aggregate's events in append order; Subscribe first replays the existing
// log and then streams live appends until the context is cancelled.
// Delivery on the subscription feed is at-least-once and preserves per-id
// append order. No ordering is promised across aggregate ids.
type Journal interface {
	// Append atomically persists the events under the given aggregate id.
	// Once Append returns nil the events are durable and will be delivered
	// to every active subscription.
	Append(ctx context.Context, aggregateID string, events []Event) error

	// Load retrieves all events for an aggregate in sequence order.
	Load(ctx context.Context, aggregateID string) ([]Event, error)

	// Subscribe returns a channel carrying the filtered feed: the existing
	// log first, then live appends. The channel closes when ctx is done.
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
}
