package behavior

import "fmt"

// UnhandledCommandError is the fallback rejection produced when no clause
// of the active phase matches a command. The aggregate id is filled in by
// the instance that routed the command, when known.
type UnhandledCommandError struct {
	Command     any
	AggregateID string
}

func (e *UnhandledCommandError) Error() string {
	if e.AggregateID == "" {
		return fmt.Sprintf("invalid command %T", e.Command)
	}
	return fmt.Sprintf("invalid command %T for aggregate %s", e.Command, e.AggregateID)
}
