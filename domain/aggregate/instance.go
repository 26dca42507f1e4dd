package aggregate

import (
	"context"
	"errors"
	"slices"

	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Instance holds one aggregate's current state together with the sequence
// number of the last folded event. It is owned exclusively by a single
// writer; nothing here is safe for concurrent use.
type Instance[S any] struct {
	id       string
	behavior *behavior.Behavior[S]
	clock    event.Clock
	ids      event.IDSource
	tags     []string

	state   S
	live    bool
	lastSeq uint64
}

// NewInstance creates an absent instance for the given id. Tags are
// attached to every event the instance emits, in addition to tags the
// facts themselves declare.
func NewInstance[S any](id string, b *behavior.Behavior[S], clock event.Clock, ids event.IDSource, tags []string) *Instance[S] {
	return &Instance[S]{id: id, behavior: b, clock: clock, ids: ids, tags: tags}
}

// Live reports whether the aggregate has been created.
func (i *Instance[S]) Live() bool {
	return i.live
}

// State returns the current state; ok is false while the aggregate is
// absent.
func (i *Instance[S]) State() (S, bool) {
	return i.state, i.live
}

// LastSequence returns the sequence number of the last folded event, zero
// when nothing has been applied.
func (i *Instance[S]) LastSequence() uint64 {
	return i.lastSeq
}

// ApplyEvent folds one event into the state. The first applied event runs
// through the creation appliers, every later one through the update
// appliers. Sequences must be strictly increasing; a violation returns a
// SequenceError, which callers treat as fatal for the worker.
func (i *Instance[S]) ApplyEvent(e event.Event) error {
	if e.Sequence <= i.lastSeq {
		return &SequenceError{AggregateID: i.id, Last: i.lastSeq, Got: e.Sequence}
	}
	if i.live {
		i.state = i.behavior.ApplyUpdate(i.state, e.Data)
	} else if state, ok := i.behavior.ApplyCreation(e.Data); ok {
		i.state = state
		i.live = true
	}
	i.lastSeq = e.Sequence
	return nil
}

// HandleCommand routes the command through the behavior phase matching the
// aggregate's lifecycle and stamps the resulting facts with metadata. The
// returned events carry no sequence numbers; the journal assigns them at
// append time. State is not mutated here — the caller folds the events in
// only after the journal acknowledges them.
func (i *Instance[S]) HandleCommand(ctx context.Context, env Envelope) ([]event.Event, error) {
	var (
		facts []event.Fact
		err   error
	)
	if i.live {
		facts, err = i.behavior.HandleUpdate(ctx, i.state, env.Command)
	} else {
		facts, err = i.behavior.HandleCreation(ctx, env.Command)
	}
	if err != nil {
		var unhandled *behavior.UnhandledCommandError
		if errors.As(err, &unhandled) {
			unhandled.AggregateID = i.id
		}
		return nil, err
	}
	if len(facts) == 0 {
		return nil, ErrNoEvents
	}

	events := make([]event.Event, len(facts))
	for n, fact := range facts {
		events[n] = event.Event{
			Meta: event.Metadata{
				AggregateID: env.AggregateID,
				CommandID:   env.CommandID,
				EventID:     i.ids.NewID(),
				Timestamp:   i.clock.Now(),
				Tags:        i.eventTags(fact),
			},
			Type: fact.EventType(),
			Data: fact,
		}
	}
	return events, nil
}

// eventTags merges the instance tags with tags the fact declares.
func (i *Instance[S]) eventTags(fact event.Fact) []string {
	tags := slices.Clone(i.tags)
	if tagged, ok := fact.(event.Tagged); ok {
		for _, tag := range tagged.EventTags() {
			if !slices.Contains(tags, tag) {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
