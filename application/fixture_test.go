package application_test

import (
	"context"
	"errors"
	"sync"

	"github.com/felixgeelhaar/sourcing-go/application"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Fixture domain: a support ticket with a subject and a comment count.

type ticket struct {
	Subject  string
	Comments int
	Closed   bool
}

type openTicket struct {
	Subject string
}

type addComment struct {
	Body string
}

type closeTicket struct{}

// burstComments adds two comments through one command.
type burstComments struct{}

type ticketOpened struct {
	Subject string `json:"subject"`
}

func (ticketOpened) EventType() event.Type { return "ticket.opened" }

type commentAdded struct {
	Body string `json:"body"`
}

func (commentAdded) EventType() event.Type { return "ticket.comment_added" }

type ticketClosed struct{}

func (ticketClosed) EventType() event.Type { return "ticket.closed" }

var (
	errNoSubject = errors.New("subject must not be empty")
	errClosed    = errors.New("ticket is closed")
)

func ticketBehavior() *behavior.Behavior[ticket] {
	return behavior.Define[ticket]().
		WhenConstructing(behavior.Construction[ticket]{
			Commands: []behavior.CreationClause[ticket]{
				behavior.Construct[ticket](func(_ context.Context, c openTicket) behavior.Result {
					if c.Subject == "" {
						return behavior.Reject(errNoSubject)
					}
					return behavior.One(ticketOpened{Subject: c.Subject})
				}),
			},
			Events: []behavior.CreationApplier[ticket]{
				behavior.InitialState[ticket](func(f ticketOpened) ticket {
					return ticket{Subject: f.Subject}
				}),
			},
		}).
		WhenUpdating(behavior.Update[ticket]{
			Commands: []behavior.UpdateClause[ticket]{
				behavior.Handle[ticket](func(_ context.Context, s ticket, c addComment) behavior.Result {
					if s.Closed {
						return behavior.Reject(errClosed)
					}
					return behavior.One(commentAdded{Body: c.Body})
				}),
				behavior.Handle[ticket](func(_ context.Context, s ticket, _ closeTicket) behavior.Result {
					if s.Closed {
						return behavior.Reject(errClosed)
					}
					return behavior.One(ticketClosed{})
				}),
				behavior.Handle[ticket](func(_ context.Context, s ticket, _ burstComments) behavior.Result {
					if s.Closed {
						return behavior.Reject(errClosed)
					}
					return behavior.Many(commentAdded{Body: "b1"}, commentAdded{Body: "b2"})
				}),
			},
			Events: []behavior.UpdateApplier[ticket]{
				behavior.Transition[ticket](func(s ticket, _ commentAdded) ticket {
					s.Comments++
					return s
				}),
				behavior.Transition[ticket](func(s ticket, _ ticketClosed) ticket {
					s.Closed = true
					return s
				}),
			},
		}).
		Build()
}

// mapProjection keeps ticket views in a map, deduplicating by event id as
// the contract requires. fail lets tests inject handler failures.
type mapProjection struct {
	name string

	mu      sync.Mutex
	applied map[string]struct{} // event ids
	views   map[string]ticket   // aggregate id -> view
	fail    func(e event.Event) error
	calls   int
}

func newMapProjection(name string) *mapProjection {
	return &mapProjection{
		name:    name,
		applied: make(map[string]struct{}),
		views:   make(map[string]ticket),
	}
}

func (p *mapProjection) Name() string { return p.name }

func (p *mapProjection) Handle(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.fail != nil {
		if err := p.fail(e); err != nil {
			return err
		}
	}
	if _, dup := p.applied[e.Meta.EventID]; dup {
		return nil
	}
	p.applied[e.Meta.EventID] = struct{}{}

	v := p.views[e.Meta.AggregateID]
	switch f := e.Data.(type) {
	case ticketOpened:
		v.Subject = f.Subject
	case commentAdded:
		v.Comments++
	case ticketClosed:
		v.Closed = true
	}
	p.views[e.Meta.AggregateID] = v
	return nil
}

func (p *mapProjection) view(id string) (ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.views[id]
	return v, ok
}

func (p *mapProjection) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// failingJournal wraps a journal and fails appends on demand.
type failingJournal struct {
	event.Journal
	mu       sync.Mutex
	failNext bool
}

func (j *failingJournal) setFailNext() {
	j.mu.Lock()
	j.failNext = true
	j.mu.Unlock()
}

func (j *failingJournal) Append(ctx context.Context, aggregateID string, events []event.Event) error {
	j.mu.Lock()
	fail := j.failNext
	j.failNext = false
	j.mu.Unlock()
	if fail {
		return errors.Join(event.ErrJournalFailure, errors.New("disk full"))
	}
	return j.Journal.Append(ctx, aggregateID, events)
}

// Compile-time interface checks for the fixtures.
var (
	_ application.Projection = (*mapProjection)(nil)
	_ event.Journal          = (*failingJournal)(nil)
)
