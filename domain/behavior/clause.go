package behavior

import (
	"context"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// CreationClause maps one command type to a Result while the aggregate does
// not exist yet. Clauses are evaluated in declaration order; the first one
// whose command type matches wins.
type CreationClause[S any] struct {
	matches func(cmd any) bool
	handle  func(ctx context.Context, cmd any) Result
}

// Construct declares a creation clause for commands of type C. The state
// type parameter ties the clause to its builder and must be given
// explicitly; C is inferred from fn.
func Construct[S, C any](fn func(ctx context.Context, cmd C) Result) CreationClause[S] {
	return CreationClause[S]{
		matches: func(cmd any) bool {
			_, ok := cmd.(C)
			return ok
		},
		handle: func(ctx context.Context, cmd any) Result {
			return fn(ctx, cmd.(C))
		},
	}
}

// CreationApplier maps one creation fact type to the aggregate's initial
// state.
type CreationApplier[S any] struct {
	matches func(fact event.Fact) bool
	apply   func(fact event.Fact) S
}

// InitialState declares how a creation fact of type F becomes the initial
// aggregate state.
func InitialState[S any, F event.Fact](fn func(fact F) S) CreationApplier[S] {
	return CreationApplier[S]{
		matches: func(fact event.Fact) bool {
			_, ok := fact.(F)
			return ok
		},
		apply: func(fact event.Fact) S {
			return fn(fact.(F))
		},
	}
}

// UpdateClause maps one command type to a Result given the aggregate's
// current state.
type UpdateClause[S any] struct {
	matches func(cmd any) bool
	handle  func(ctx context.Context, state S, cmd any) Result
}

// Handle declares an update clause for commands of type C.
func Handle[S, C any](fn func(ctx context.Context, state S, cmd C) Result) UpdateClause[S] {
	return UpdateClause[S]{
		matches: func(cmd any) bool {
			_, ok := cmd.(C)
			return ok
		},
		handle: func(ctx context.Context, state S, cmd any) Result {
			return fn(ctx, state, cmd.(C))
		},
	}
}

// UpdateApplier folds one update fact type into the next state.
type UpdateApplier[S any] struct {
	matches func(fact event.Fact) bool
	apply   func(state S, fact event.Fact) S
}

// Transition declares how an update fact of type F evolves the state.
func Transition[S any, F event.Fact](fn func(state S, fact F) S) UpdateApplier[S] {
	return UpdateApplier[S]{
		matches: func(fact event.Fact) bool {
			_, ok := fact.(F)
			return ok
		},
		apply: func(state S, fact event.Fact) S {
			return fn(state, fact.(F))
		},
	}
}
