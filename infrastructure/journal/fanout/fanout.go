// Package fanout provides the subscription multicaster shared by the
// journal backends: lossless replay-then-live delivery with per-aggregate
// order preserved.
package fanout

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// Multicaster fans appended events out to subscribers. Backends call
// Publish after each durable append; Subscribe registers first and loads
// the existing log second, so nothing committed is ever missed — an event
// landing in both the load and the live feed is deduplicated by sequence.
type Multicaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New creates an empty multicaster.
func New() *Multicaster {
	return &Multicaster{subs: make(map[*subscriber]struct{})}
}

// Publish delivers the events to every subscriber. Callers publish events
// for one aggregate in append order; per-id order is preserved per
// subscriber.
func (m *Multicaster) Publish(events []event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		sub.enqueue(events)
	}
}

// Subscribe returns the filtered feed. load reads the already-committed
// log (any order across aggregates, append order within one); it runs
// after registration, so events committed before the load are seen there
// and events committed after it arrive live.
func (m *Multicaster) Subscribe(ctx context.Context, filter event.Filter, load func(context.Context) ([]event.Event, error)) (<-chan event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscriber(filter)

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	var replay []event.Event
	if load != nil {
		var err error
		replay, err = load(ctx)
		if err != nil {
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
			return nil, err
		}
	}
	sub.seed(replay)

	go sub.pump()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// subscriber owns an unbounded pending queue so appends never block on a
// slow consumer and no event is dropped before the consumer gives up.
type subscriber struct {
	filter event.Filter
	ch     chan event.Event

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event.Event
	seeded bool
	closed bool
}

func newSubscriber(filter event.Filter) *subscriber {
	s := &subscriber{
		filter: filter,
		ch:     make(chan event.Event, 16),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue adds matching events to the pending queue.
func (s *subscriber) enqueue(events []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, e := range events {
		if s.filter.Matches(e) {
			s.queue = append(s.queue, e)
		}
	}
	s.cond.Signal()
}

// seed prepends the replayed log and drops live events the replay already
// covers, keyed by per-aggregate sequence.
func (s *subscriber) seed(replay []event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	covered := make(map[string]uint64)
	merged := make([]event.Event, 0, len(replay)+len(s.queue))
	for _, e := range replay {
		if s.filter.Matches(e) {
			merged = append(merged, e)
		}
		if e.Sequence > covered[e.Meta.AggregateID] {
			covered[e.Meta.AggregateID] = e.Sequence
		}
	}
	for _, e := range s.queue {
		if e.Sequence > covered[e.Meta.AggregateID] {
			merged = append(merged, e)
		}
	}
	s.queue = merged
	s.seeded = true
	s.cond.Signal()
}

// pump drains the pending queue into the channel in order.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for (!s.seeded || len(s.queue) == 0) && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			continue
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.ch <- next
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.seeded = true
	s.mu.Unlock()
	s.cond.Signal()

	// Drain so a blocked pump send can finish and close the channel.
	go func() {
		for range s.ch {
		}
	}()
}
