// Package application provides the runtime services over the domain: the
// per-aggregate command engine, the projection runtime, and the join
// monitor that couples the two.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/sourcing-go/domain/aggregate"
	"github.com/felixgeelhaar/sourcing-go/domain/behavior"
	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/logging"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/telemetry"
)

// defaultMailboxSize bounds a worker's queue of in-flight submissions.
const defaultMailboxSize = 64

// defaultJoinTimeout bounds AskJoin when the caller passes no timeout.
const defaultJoinTimeout = 10 * time.Second

// Manager routes commands to per-aggregate single writers for one
// aggregate kind. Commands addressed to the same id are processed strictly
// one at a time in submission order; different ids proceed in parallel.
type Manager[S any] struct {
	kind        string
	behavior    *behavior.Behavior[S]
	journal     event.Journal
	clock       event.Clock
	ids         event.IDSource
	projections *Projections
	metrics     telemetry.Metrics
	mailboxSize int
	tags        []string

	root   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker[S]
	closed  bool
}

// ManagerConfig configures a manager. Kind, Behavior, and Journal are
// required; everything else has defaults. Projections enables AskJoin.
type ManagerConfig[S any] struct {
	// Kind names the aggregate type; it tags every emitted event and
	// labels logs and metrics.
	Kind string

	Behavior *behavior.Behavior[S]
	Journal  event.Journal

	Clock       event.Clock
	IDs         event.IDSource
	Projections *Projections
	Metrics     telemetry.Metrics

	// MailboxSize bounds each worker's queue; submissions beyond it block
	// the submitting caller, not the worker.
	MailboxSize int

	// Tags are attached to every event this manager's aggregates emit,
	// in addition to the Kind tag.
	Tags []string
}

// NewManager creates a manager for one aggregate kind.
func NewManager[S any](config ManagerConfig[S]) (*Manager[S], error) {
	if config.Kind == "" {
		return nil, errors.New("kind is required")
	}
	if config.Behavior == nil {
		return nil, errors.New("behavior is required")
	}
	if config.Journal == nil {
		return nil, errors.New("journal is required")
	}

	m := &Manager[S]{
		kind:        config.Kind,
		behavior:    config.Behavior,
		journal:     config.Journal,
		clock:       config.Clock,
		ids:         config.IDs,
		projections: config.Projections,
		metrics:     config.Metrics,
		mailboxSize: config.MailboxSize,
		tags:        append([]string{config.Kind}, config.Tags...),
		workers:     make(map[string]*worker[S]),
	}
	if m.clock == nil {
		m.clock = event.SystemClock{}
	}
	if m.ids == nil {
		m.ids = event.UUIDSource{}
	}
	if m.metrics == nil {
		m.metrics = telemetry.NoopMetrics{}
	}
	if m.mailboxSize <= 0 {
		m.mailboxSize = defaultMailboxSize
	}
	m.root, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Submit enqueues a command fire-and-forget. The context bounds only the
// enqueueing; once queued the command executes exactly once.
func (m *Manager[S]) Submit(ctx context.Context, env aggregate.Envelope) error {
	msg := &message[S]{kind: msgCommand, env: m.stamp(env), reply: make(chan response[S], 1)}
	return m.dispatch(ctx, msg)
}

// Ask submits a command and waits for its outcome: the committed events on
// acceptance, the rejection otherwise. A context timeout unblocks the
// caller without cancelling the queued command.
func (m *Manager[S]) Ask(ctx context.Context, env aggregate.Envelope) ([]event.Event, error) {
	msg := &message[S]{kind: msgCommand, env: m.stamp(env), reply: make(chan response[S], 1)}
	if err := m.dispatch(ctx, msg); err != nil {
		return nil, err
	}
	select {
	case resp := <-msg.reply:
		return resp.events, resp.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, context.Cause(ctx))
	case <-m.root.Done():
		return nil, ErrClosed
	}
}

// AskJoin submits a command and additionally waits until the named
// projection has applied the command's events. The monitor is registered
// before submission so confirmations cannot be missed. On timeout or a
// stalled projection the returned ProjectionJoinError carries the
// committed events.
func (m *Manager[S]) AskJoin(ctx context.Context, env aggregate.Envelope, view string, filter JoinFilter, timeout time.Duration) ([]event.Event, error) {
	if m.projections == nil {
		return nil, ErrNoProjections
	}
	if timeout <= 0 {
		timeout = defaultJoinTimeout
	}

	env = m.stamp(env)
	joins := m.projections.Joins()
	waiter := joins.register(env.CommandID, view)
	defer joins.cancel(waiter)

	start := time.Now()
	events, err := m.Ask(ctx, env)
	if err != nil {
		return nil, err
	}
	joins.expect(waiter, filter.watched(events))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter.done:
		if cause := waiter.failure(); cause != nil {
			m.metrics.RecordJoin(ctx, view, false, time.Since(start))
			return events, &ProjectionJoinError{Events: events, Cause: cause}
		}
		m.metrics.RecordJoin(ctx, view, true, time.Since(start))
		return events, nil
	case <-timer.C:
		m.metrics.RecordJoin(ctx, view, false, time.Since(start))
		return events, &ProjectionJoinError{Events: events, Cause: ErrTimeout}
	case <-ctx.Done():
		m.metrics.RecordJoin(ctx, view, false, time.Since(start))
		return events, &ProjectionJoinError{Events: events, Cause: context.Cause(ctx)}
	}
}

// State returns the aggregate's current state, or aggregate.ErrNotFound
// while it is absent. The query routes through the worker's mailbox, so it
// observes every command completed before it.
func (m *Manager[S]) State(ctx context.Context, id string) (S, error) {
	var zero S
	msg := &message[S]{kind: msgState, env: aggregate.Envelope{AggregateID: id}, reply: make(chan response[S], 1)}
	if err := m.dispatch(ctx, msg); err != nil {
		return zero, err
	}
	select {
	case resp := <-msg.reply:
		return resp.state, resp.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %v", ErrTimeout, context.Cause(ctx))
	case <-m.root.Done():
		return zero, ErrClosed
	}
}

// Exists reports whether the aggregate has been created.
func (m *Manager[S]) Exists(ctx context.Context, id string) (bool, error) {
	msg := &message[S]{kind: msgExists, env: aggregate.Envelope{AggregateID: id}, reply: make(chan response[S], 1)}
	if err := m.dispatch(ctx, msg); err != nil {
		return false, err
	}
	select {
	case resp := <-msg.reply:
		return resp.live, resp.err
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrTimeout, context.Cause(ctx))
	case <-m.root.Done():
		return false, ErrClosed
	}
}

// Passivate asks the aggregate's worker to shut down once its queue is
// empty. Correctness is unaffected: the next command rebuilds state by
// replaying the journal.
func (m *Manager[S]) Passivate(ctx context.Context, id string) error {
	m.mu.Lock()
	_, live := m.workers[id]
	m.mu.Unlock()
	if !live {
		return nil
	}
	msg := &message[S]{kind: msgPassivate, env: aggregate.Envelope{AggregateID: id}, reply: make(chan response[S], 1)}
	return m.dispatch(ctx, msg)
}

// Close stops all workers. In-flight commands are abandoned; pending
// callers receive ErrClosed once the manager's root context is cancelled.
func (m *Manager[S]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// stamp assigns a command id when the client supplied none.
func (m *Manager[S]) stamp(env aggregate.Envelope) aggregate.Envelope {
	if env.CommandID == "" {
		env.CommandID = m.ids.NewID()
	}
	return env
}

// dispatch finds or spawns the worker for the envelope's id and enqueues
// the message. The pending count taken under the lock keeps the worker
// alive until the send lands, so a send can never hit a dead mailbox.
func (m *Manager[S]) dispatch(ctx context.Context, msg *message[S]) error {
	if msg.env.AggregateID == "" {
		return errors.New("aggregate id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	w, ok := m.workers[msg.env.AggregateID]
	if !ok || w.stopped {
		w = m.spawn(msg.env.AggregateID)
	}
	w.pending++
	m.mu.Unlock()

	select {
	case w.mailbox <- msg:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		w.pending--
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTimeout, context.Cause(ctx))
	case <-m.root.Done():
		m.mu.Lock()
		w.pending--
		m.mu.Unlock()
		return ErrClosed
	}
}

// spawn registers and starts a worker. Caller holds m.mu.
func (m *Manager[S]) spawn(id string) *worker[S] {
	w := &worker[S]{
		id:      id,
		manager: m,
		mailbox: make(chan *message[S], m.mailboxSize),
	}
	m.workers[id] = w
	go w.run()
	m.metrics.IncLiveWorkers(m.root, m.kind)
	return w
}

// msgKind discriminates worker messages.
type msgKind int

const (
	msgCommand msgKind = iota
	msgState
	msgExists
	msgPassivate
)

// message is one unit of work for a worker.
type message[S any] struct {
	kind  msgKind
	env   aggregate.Envelope
	reply chan response[S]
}

// response carries a message's outcome back to the caller.
type response[S any] struct {
	events []event.Event
	state  S
	live   bool
	err    error
}

// worker is the single writer for one aggregate id. It owns the instance
// exclusively and processes its mailbox strictly in order. pending and
// stopped are guarded by the manager's mutex.
type worker[S any] struct {
	id      string
	manager *Manager[S]
	mailbox chan *message[S]

	inst    *aggregate.Instance[S]
	crashed error

	pending int
	stopped bool
}

// run is the worker loop. It exits on manager shutdown, on passivation
// with an empty queue, or on a programming error (crash).
func (w *worker[S]) run() {
	m := w.manager
	for {
		select {
		case <-m.root.Done():
			m.mu.Lock()
			w.stopped = true
			if m.workers[w.id] == w {
				delete(m.workers, w.id)
			}
			m.mu.Unlock()
			m.metrics.DecLiveWorkers(context.Background(), m.kind)
			return
		case msg := <-w.mailbox:
			passivate := w.handle(msg)

			m.mu.Lock()
			w.pending--
			if w.crashed != nil || (passivate && w.pending == 0) {
				w.stopped = true
				if m.workers[w.id] == w {
					delete(m.workers, w.id)
				}
			}
			stopped := w.stopped
			m.mu.Unlock()

			if w.crashed != nil {
				w.drainCrashed()
			}
			if stopped {
				m.metrics.DecLiveWorkers(context.Background(), m.kind)
				return
			}
		}
	}
}

// handle processes one message; the return value requests passivation.
// Programming errors crash the worker: a non-monotonic fold after append,
// and any panic raised by a handler or an applier.
func (w *worker[S]) handle(msg *message[S]) (passivate bool) {
	defer func() {
		if r := recover(); r != nil {
			w.crash(fmt.Errorf("panic: %v", r), msg)
			passivate = false
		}
	}()
	switch msg.kind {
	case msgPassivate:
		return true
	case msgState:
		if err := w.hydrate(); err != nil {
			msg.reply <- response[S]{err: err}
			return false
		}
		state, live := w.inst.State()
		if !live {
			msg.reply <- response[S]{err: aggregate.ErrNotFound}
			return false
		}
		msg.reply <- response[S]{state: state, live: true}
		return false
	case msgExists:
		if err := w.hydrate(); err != nil {
			msg.reply <- response[S]{err: err}
			return false
		}
		msg.reply <- response[S]{live: w.inst.Live()}
		return false
	default:
		w.command(msg)
		return false
	}
}

// command runs the full single-writer cycle: rehydrate, invoke the
// behavior, append, fold, reply. The manager's root context drives the
// execution so a caller timeout never cancels an accepted command.
func (w *worker[S]) command(msg *message[S]) {
	m := w.manager
	start := time.Now()

	if err := w.hydrate(); err != nil {
		msg.reply <- response[S]{err: err}
		return
	}

	events, err := w.inst.HandleCommand(m.root, msg.env)
	if err != nil {
		// Validation outcomes are the caller's business, not error logs.
		m.metrics.RecordCommand(m.root, m.kind, false, time.Since(start))
		msg.reply <- response[S]{err: err}
		return
	}

	if err := m.journal.Append(m.root, w.id, events); err != nil {
		if !errors.Is(err, event.ErrJournalFailure) {
			err = fmt.Errorf("%w: %v", event.ErrJournalFailure, err)
		}
		m.metrics.RecordJournalFailure(m.root, m.kind)
		logging.Error().
			Add(logging.Kind(m.kind)).
			Add(logging.AggregateID(w.id)).
			Add(logging.CommandID(msg.env.CommandID)).
			Add(logging.ErrorField(err)).
			Msg("journal append failed")
		msg.reply <- response[S]{err: err}
		return
	}

	for _, e := range events {
		if err := w.inst.ApplyEvent(e); err != nil {
			// Non-monotonic fold is a programming error; crash the worker.
			w.crash(fmt.Errorf("fold after append: %w", err), msg)
			return
		}
	}

	m.metrics.RecordCommand(m.root, m.kind, true, time.Since(start))
	m.metrics.RecordAppend(m.root, m.kind, len(events))
	logging.Debug().
		Add(logging.Kind(m.kind)).
		Add(logging.AggregateID(w.id)).
		Add(logging.CommandID(msg.env.CommandID)).
		Add(logging.EventCount(len(events))).
		Add(logging.Duration(time.Since(start))).
		Msg("command accepted")
	msg.reply <- response[S]{events: events}
}

// hydrate replays the journal into a fresh instance on first contact.
func (w *worker[S]) hydrate() error {
	if w.inst != nil {
		return nil
	}
	m := w.manager
	inst := aggregate.NewInstance(w.id, m.behavior, m.clock, m.ids, m.tags)
	events, err := m.journal.Load(m.root, w.id)
	if err != nil {
		if !errors.Is(err, event.ErrJournalFailure) {
			err = fmt.Errorf("%w: %v", event.ErrJournalFailure, err)
		}
		return err
	}
	for _, e := range events {
		if err := inst.ApplyEvent(e); err != nil {
			return fmt.Errorf("replay %s: %w", w.id, err)
		}
	}
	w.inst = inst
	return nil
}

// crash marks the worker crashed and fails the current message. The run
// loop deregisters the worker and drains whatever is queued behind it; the
// error is never swallowed.
func (w *worker[S]) crash(cause error, current *message[S]) {
	m := w.manager
	logging.Error().
		Add(logging.Kind(m.kind)).
		Add(logging.AggregateID(w.id)).
		Add(logging.ErrorField(cause)).
		Msg("aggregate worker crashed")

	w.crashed = cause
	current.reply <- response[S]{err: cause}
}

// drainCrashed fails every message still queued on a crashed worker so no
// caller blocks on a reply that will never come. Senders that abandon
// their send decrement pending themselves; the poll interval covers that
// window.
func (w *worker[S]) drainCrashed() {
	m := w.manager
	for {
		m.mu.Lock()
		remaining := w.pending
		m.mu.Unlock()
		if remaining == 0 {
			return
		}

		select {
		case msg := <-w.mailbox:
			msg.reply <- response[S]{err: w.crashed}
			m.mu.Lock()
			w.pending--
			m.mu.Unlock()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
