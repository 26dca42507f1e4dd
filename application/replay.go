package application

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/sourcing-go/domain/aggregate"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Rebuild folds an aggregate's journal from empty into its final state,
// without going through a worker. This is the offline audit path: the
// result must match what the live worker holds, and it is how a fresh
// deployment or a new read model recovers state.
func Rebuild[S any](ctx context.Context, journal event.Journal, b *behavior.Behavior[S], id string) (S, uint64, error) {
	var zero S

	events, err := journal.Load(ctx, id)
	if err != nil {
		return zero, 0, err
	}
	if len(events) == 0 {
		return zero, 0, aggregate.ErrNotFound
	}

	inst := aggregate.NewInstance(id, b, event.SystemClock{}, event.UUIDSource{}, nil)
	for _, e := range events {
		if err := inst.ApplyEvent(e); err != nil {
			return zero, 0, fmt.Errorf("rebuild %s: %w", id, err)
		}
	}

	state, live := inst.State()
	if !live {
		return zero, 0, aggregate.ErrNotFound
	}
	return state, inst.LastSequence(), nil
}

// VerifyLog checks an aggregate's stream invariants: sequences contiguous
// from 1, event ids present and unique within the stream, and every event
// tagged with a command id.
func VerifyLog(ctx context.Context, journal event.Journal, id string) error {
	events, err := journal.Load(ctx, id)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if e.Sequence != uint64(i+1) {
			return fmt.Errorf("aggregate %s: sequence %d at position %d", id, e.Sequence, i)
		}
		if e.Meta.EventID == "" {
			return fmt.Errorf("aggregate %s: event at sequence %d has no id", id, e.Sequence)
		}
		if _, dup := seen[e.Meta.EventID]; dup {
			return fmt.Errorf("aggregate %s: duplicate event id %s", id, e.Meta.EventID)
		}
		seen[e.Meta.EventID] = struct{}{}
		if e.Meta.CommandID == "" {
			return fmt.Errorf("aggregate %s: event %s has no command id", id, e.Meta.EventID)
		}
	}
	return nil
}
