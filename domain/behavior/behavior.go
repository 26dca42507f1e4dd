package behavior

import (
	"context"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Behavior is the composed pair of phased handler sets for one aggregate
// kind. It is evaluated by the command engine: creation handlers while the
// aggregate is absent, update handlers once it is live.
type Behavior[S any] struct {
	construction Construction[S]
	update       Update[S]
}

// HandleCreation routes a command through the creation clauses. When no
// clause matches, the command is rejected with an UnhandledCommandError.
func (b *Behavior[S]) HandleCreation(ctx context.Context, cmd any) ([]event.Fact, error) {
	for _, clause := range b.construction.Commands {
		if clause.matches(cmd) {
			return clause.handle(ctx, cmd).resolve(ctx)
		}
	}
	return nil, &UnhandledCommandError{Command: cmd}
}

// HandleUpdate routes a command through the update clauses given the
// current state.
func (b *Behavior[S]) HandleUpdate(ctx context.Context, state S, cmd any) ([]event.Fact, error) {
	for _, clause := range b.update.Commands {
		if clause.matches(cmd) {
			return clause.handle(ctx, state, cmd).resolve(ctx)
		}
	}
	return nil, &UnhandledCommandError{Command: cmd}
}

// ApplyCreation folds a creation fact into the initial state. The second
// return is false when no applier matches; events are facts, so an
// unmatched fact leaves the aggregate absent instead of failing replay.
func (b *Behavior[S]) ApplyCreation(fact event.Fact) (S, bool) {
	for _, applier := range b.construction.Events {
		if applier.matches(fact) {
			return applier.apply(fact), true
		}
	}
	var zero S
	return zero, false
}

// ApplyUpdate folds an update fact into the next state. An unmatched fact
// returns the state unchanged.
func (b *Behavior[S]) ApplyUpdate(state S, fact event.Fact) S {
	for _, applier := range b.update.Events {
		if applier.matches(fact) {
			return applier.apply(state, fact)
		}
	}
	return state
}
