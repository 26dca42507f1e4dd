// Package memory provides the in-memory reference implementation of
// event.Journal: a per-id ordered log with fan-out delivery to
// subscribers in append order.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/journal/fanout"
)

// Journal is an in-memory implementation of event.Journal. It is the
// default backend and the one tests run against.
type Journal struct {
	mu      sync.Mutex
	streams map[string][]event.Event
	order   []string // aggregate ids in first-append order, for deterministic replay
	fan     *fanout.Multicaster
}

// NewJournal creates an empty in-memory journal.
func NewJournal() *Journal {
	return &Journal{
		streams: make(map[string][]event.Event),
		fan:     fanout.New(),
	}
}

// Append atomically appends the events under the aggregate id, assigning
// contiguous sequence numbers in place, and fans them out to subscribers.
func (j *Journal) Append(ctx context.Context, aggregateID string, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].Type == "" {
			return event.ErrInvalidEvent
		}
		if events[i].Meta.EventID == "" {
			events[i].Meta.EventID = uuid.New().String()
		}
	}

	j.mu.Lock()
	stream, known := j.streams[aggregateID]
	if !known {
		j.order = append(j.order, aggregateID)
	}
	seq := uint64(len(stream))
	for i := range events {
		seq++
		events[i].Sequence = seq
		events[i].Meta.AggregateID = aggregateID
	}
	j.streams[aggregateID] = append(stream, events...)
	// Published under the journal lock so the feed sees appends in commit
	// order even when callers race on one id.
	j.fan.Publish(events)
	j.mu.Unlock()
	return nil
}

// Load retrieves all events for an aggregate in sequence order.
func (j *Journal) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	stream := j.streams[aggregateID]
	out := make([]event.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// Subscribe returns the filtered feed: a replay of the existing log, then
// live appends.
func (j *Journal) Subscribe(ctx context.Context, filter event.Filter) (<-chan event.Event, error) {
	return j.fan.Subscribe(ctx, filter, j.loadAll)
}

// loadAll snapshots every stream for replay seeding.
func (j *Journal) loadAll(context.Context) ([]event.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []event.Event
	for _, id := range j.order {
		out = append(out, j.streams[id]...)
	}
	return out, nil
}

// Len returns the total number of events across all aggregates.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	for _, stream := range j.streams {
		n += len(stream)
	}
	return n
}

// Ensure Journal implements event.Journal.
var _ event.Journal = (*Journal)(nil)
