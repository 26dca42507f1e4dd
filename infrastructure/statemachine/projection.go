// Package statemachine provides the statekit chart for the projection
// lifecycle.
package statemachine

import (
	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/sourcing-go/infrastructure/logging"
)

// Status is the machine context: which projection the chart tracks and the
// error that stalled it, when any.
type Status struct {
	Projection string
	LastError  error
}

// Projection lifecycle states.
const (
	StateIdle    statekit.StateID = "idle"
	StateRunning statekit.StateID = "running"
	StateStopped statekit.StateID = "stopped"
	StateStalled statekit.StateID = "stalled"
)

// Projection lifecycle events.
const (
	EventStart   statekit.EventType = "START"
	EventStop    statekit.EventType = "STOP"
	EventExhaust statekit.EventType = "EXHAUST"
)

// NewProjectionMachine creates the lifecycle chart for one projection.
// A stalled projection is final: it never resumes within the same runner.
func NewProjectionMachine(name string) (*statekit.MachineConfig[*Status], error) {
	return statekit.NewMachine[*Status]("projection").
		WithInitial(StateIdle).
		WithContext(&Status{Projection: name}).
		WithAction("logTransition", logTransition).
		State(StateIdle).
		On(EventStart).Target(StateRunning).Do("logTransition").
		Done().
		State(StateRunning).
		On(EventStop).Target(StateStopped).Do("logTransition").
		On(EventExhaust).Target(StateStalled).Do("logTransition").
		Done().
		State(StateStopped).
		Final().
		Done().
		State(StateStalled).
		Final().
		Done().
		Build()
}

// Tracker drives one projection's lifecycle chart.
type Tracker struct {
	interp *statekit.Interpreter[*Status]
	status *Status
}

// NewTracker starts an interpreter over the projection machine.
func NewTracker(name string) (*Tracker, error) {
	machine, err := NewProjectionMachine(name)
	if err != nil {
		return nil, err
	}
	status := &Status{Projection: name}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(s **Status) {
		*s = status
	})
	interp.Start()
	return &Tracker{interp: interp, status: status}, nil
}

// Started marks the projection running.
func (t *Tracker) Started() {
	t.interp.Send(statekit.Event{Type: EventStart})
}

// Stopped marks a clean shutdown.
func (t *Tracker) Stopped() {
	t.interp.Send(statekit.Event{Type: EventStop})
}

// Stalled marks the projection stalled with the exhausting error.
func (t *Tracker) Stalled(err error) {
	t.status.LastError = err
	t.interp.Send(statekit.Event{Type: EventExhaust, Payload: err})
}

// State returns the current lifecycle state.
func (t *Tracker) State() statekit.StateID {
	return statekit.StateID(t.interp.State().Value)
}

// IsStalled reports whether the projection has stalled.
func (t *Tracker) IsStalled() bool {
	return t.State() == StateStalled
}

// logTransition logs every lifecycle transition.
func logTransition(status **Status, event statekit.Event) {
	if status == nil || *status == nil {
		return
	}
	s := *status
	logging.Debug().
		Add(logging.Projection(s.Projection)).
		Msg("projection lifecycle: " + string(event.Type))
}
