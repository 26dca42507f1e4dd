package application

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

var (
	// ErrTimeout is returned when a caller's wait expires. The underlying
	// operation is unaffected: an accepted command still executes and a
	// registered join monitor still completes on its own schedule.
	ErrTimeout = errors.New("timeout")

	// ErrClosed is returned when a manager has been closed.
	ErrClosed = errors.New("manager closed")

	// ErrNoProjections is returned when AskJoin is called on a manager
	// constructed without a projection runtime.
	ErrNoProjections = errors.New("projection join requires projections")
)

// ProjectionJoinError reports a write that succeeded whose read-side join
// did not: the command's events are committed but the named projection did
// not confirm them in time. Events carries the committed events so callers
// know the write happened.
type ProjectionJoinError struct {
	Events []event.Event
	Cause  error
}

func (e *ProjectionJoinError) Error() string {
	return fmt.Sprintf("projection join failed after %d committed events: %v", len(e.Events), e.Cause)
}

func (e *ProjectionJoinError) Unwrap() error {
	return e.Cause
}

// StalledProjectionError reports a projection whose handler exhausted its
// retries. The runner stops advancing; writes and other projections are
// unaffected.
type StalledProjectionError struct {
	Projection string
	Cause      error
}

func (e *StalledProjectionError) Error() string {
	return fmt.Sprintf("projection %s stalled: %v", e.Projection, e.Cause)
}

func (e *StalledProjectionError) Unwrap() error {
	return e.Cause
}
