// Package behavior provides the specification DSL for aggregates: a typed
// builder that collects creation and update handlers in two phases, and the
// composed Behavior the command engine evaluates.
package behavior

import (
	"context"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Result is the outcome of a command handler: a single fact, several facts,
// a deferred computation resolving to facts, or a rejection. The engine
// normalises every variant to ([]event.Fact, error).
type Result struct {
	facts    []event.Fact
	deferred func(context.Context) ([]event.Fact, error)
	err      error
}

// One accepts the command with a single fact.
func One(fact event.Fact) Result {
	return Result{facts: []event.Fact{fact}}
}

// Many accepts the command with a sequence of facts.
func Many(facts ...event.Fact) Result {
	return Result{facts: facts}
}

// Async accepts the command with a computation that resolves to facts
// later, for handlers that need to await an external collaborator. The
// worker's mailbox stays paused until fn returns.
func Async(fn func(context.Context) ([]event.Fact, error)) Result {
	return Result{deferred: fn}
}

// Reject refuses the command with the given reason. No events are written
// and state does not change.
func Reject(err error) Result {
	return Result{err: err}
}

// resolve normalises the result to facts or an error.
func (r Result) resolve(ctx context.Context) ([]event.Fact, error) {
	switch {
	case r.err != nil:
		return nil, r.err
	case r.deferred != nil:
		return r.deferred(ctx)
	default:
		return r.facts, nil
	}
}
