package application

import (
	"sync"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
)

// JoinFilter narrows which of a command's events a join waits on. It never
// narrows what gets committed.
type JoinFilter struct {
	limit int
}

// AllEvents waits on every event the command produced.
func AllEvents() JoinFilter {
	return JoinFilter{}
}

// Limit waits on only the first n events the command produced.
func Limit(n int) JoinFilter {
	return JoinFilter{limit: n}
}

// watched selects the event ids the join waits on.
func (f JoinFilter) watched(events []event.Event) []string {
	n := len(events)
	if f.limit > 0 && f.limit < n {
		n = f.limit
	}
	ids := make([]string, 0, n)
	for _, e := range events[:n] {
		ids = append(ids, e.Meta.EventID)
	}
	return ids
}

// joinKey identifies one pending join: the command awaited and the view
// that must confirm its events.
type joinKey struct {
	commandID string
	view      string
}

// JoinMonitor couples command acknowledgement to projection arrival.
// Waiters register before their command is submitted, so confirmations that
// race the submission are buffered rather than missed.
type JoinMonitor struct {
	mu      sync.Mutex
	waiters map[joinKey]*joinWaiter
	stalled map[string]error // view -> exhausting error
}

// NewJoinMonitor creates an empty monitor.
func NewJoinMonitor() *JoinMonitor {
	return &JoinMonitor{
		waiters: make(map[joinKey]*joinWaiter),
		stalled: make(map[string]error),
	}
}

// register creates a waiter for the command/view pair. Must be called
// before the command is submitted. A registration against an already
// stalled view fails immediately.
func (m *JoinMonitor) register(commandID, view string) *joinWaiter {
	w := &joinWaiter{
		key:  joinKey{commandID: commandID, view: view},
		seen: make(map[string]struct{}),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.stalled[view]; ok {
		w.fail(&StalledProjectionError{Projection: view, Cause: err})
		return w
	}
	m.waiters[w.key] = w
	return w
}

// cancel removes a waiter regardless of its completion state.
func (m *JoinMonitor) cancel(w *joinWaiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiters, w.key)
}

// EventApplied records that the view has applied the event. Called by the
// projection runner after every successful handler call.
func (m *JoinMonitor) EventApplied(view string, e event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.waiters[joinKey{commandID: e.Meta.CommandID, view: view}]
	if !ok {
		return
	}
	w.seen[e.Meta.EventID] = struct{}{}
	if w.complete() {
		delete(m.waiters, w.key)
	}
}

// ViewStalled fails every waiter on the view and every future registration
// against it.
func (m *JoinMonitor) ViewStalled(view string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stalled[view] = cause
	for key, w := range m.waiters {
		if key.view == view {
			w.fail(&StalledProjectionError{Projection: view, Cause: cause})
			delete(m.waiters, key)
		}
	}
}

// expect supplies the awaited event ids once the command has been
// acknowledged. Confirmations seen before this call count.
func (m *JoinMonitor) expect(w *joinWaiter, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.expected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		w.expected[id] = struct{}{}
	}
	if w.complete() {
		delete(m.waiters, w.key)
	}
}

// joinWaiter tracks one pending join. All fields are guarded by the
// monitor's mutex; done is closed exactly once.
type joinWaiter struct {
	key      joinKey
	seen     map[string]struct{}
	expected map[string]struct{} // nil until expect
	err      error
	closed   bool
	done     chan struct{}
}

// complete closes done when every expected id has been seen. Caller holds
// the monitor lock.
func (w *joinWaiter) complete() bool {
	if w.closed || w.expected == nil {
		return w.closed
	}
	for id := range w.expected {
		if _, ok := w.seen[id]; !ok {
			return false
		}
	}
	w.closed = true
	close(w.done)
	return true
}

// fail completes the waiter with an error. Caller holds the monitor lock.
func (w *joinWaiter) fail(err error) {
	if w.closed {
		return
	}
	w.err = err
	w.closed = true
	close(w.done)
}

// failure returns the waiter's error after done has closed.
func (w *joinWaiter) failure() error {
	return w.err
}
