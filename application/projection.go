package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/sourcing-go/domain/event"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/logging"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/resilience"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/statemachine"
	"github.com/felixgeelhaar/sourcing-go/infrastructure/telemetry"
)

// Projection consumes committed events and updates a derived read-side
// view. Handlers must be idempotent by event id: delivery is at-least-once
// and the runtime does not deduplicate beyond its own cursor.
type Projection interface {
	// Name identifies the projection; joins address it by this name.
	Name() string

	// Handle applies one event to the view. Failures are retried with
	// bounded exponential backoff.
	Handle(ctx context.Context, e event.Event) error
}

// Runner drives a single projection: it subscribes to the journal, applies
// each event through the retry policy, advances its cursor, and confirms
// applied events to the join monitor.
type Runner struct {
	projection Projection
	journal    event.Journal
	filter     event.Filter
	retry      *resilience.Retrier
	joins      *JoinMonitor
	metrics    telemetry.Metrics
	tracker    *statemachine.Tracker

	cursors map[string]uint64 // last applied sequence per aggregate
	stalled atomic.Bool
}

// RunnerConfig configures a projection runner.
type RunnerConfig struct {
	Projection Projection
	Journal    event.Journal
	Filter     event.Filter
	Retry      resilience.RetryConfig
	Joins      *JoinMonitor
	Metrics    telemetry.Metrics
}

// NewRunner creates a runner for the given projection.
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Projection == nil {
		return nil, errors.New("projection is required")
	}
	if config.Journal == nil {
		return nil, errors.New("journal is required")
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracker, err := statemachine.NewTracker(config.Projection.Name())
	if err != nil {
		return nil, fmt.Errorf("projection lifecycle: %w", err)
	}

	return &Runner{
		projection: config.Projection,
		journal:    config.Journal,
		filter:     config.Filter,
		retry:      resilience.NewRetrier(config.Retry),
		joins:      config.Joins,
		metrics:    metrics,
		tracker:    tracker,
		cursors:    make(map[string]uint64),
	}, nil
}

// Stalled reports whether the runner has stopped after exhausting retries.
func (r *Runner) Stalled() bool {
	return r.stalled.Load()
}

// Run consumes the journal feed until ctx is cancelled or the projection
// stalls. It returns a StalledProjectionError on stall and nil on clean
// shutdown.
func (r *Runner) Run(ctx context.Context) error {
	// A dedicated subscription context tears the feed down when the runner
	// stops early on a stall.
	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()

	ch, err := r.journal.Subscribe(subCtx, r.filter)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.projection.Name(), err)
	}
	r.tracker.Started()

	for e := range ch {
		if e.Sequence <= r.cursors[e.Meta.AggregateID] {
			// Already applied; redelivery from a resubscribe.
			continue
		}

		if err := r.apply(ctx, e); err != nil {
			if ctx.Err() != nil {
				r.tracker.Stopped()
				return nil
			}
			return r.stall(ctx, e, err)
		}

		r.cursors[e.Meta.AggregateID] = e.Sequence
		if r.joins != nil {
			r.joins.EventApplied(r.projection.Name(), e)
		}
	}

	r.tracker.Stopped()
	return nil
}

// apply runs the handler through the retry policy, counting retry rounds.
func (r *Runner) apply(ctx context.Context, e event.Event) error {
	start := time.Now()
	attempts := 0
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			r.metrics.RecordProjectionRetry(ctx, r.projection.Name())
		}
		return r.projection.Handle(ctx, e)
	})
	if err != nil {
		return err
	}
	r.metrics.RecordProjectionApply(ctx, r.projection.Name(), time.Since(start))
	return nil
}

// stall marks the projection stalled, fails its pending joins, and stops
// the runner. The stall is isolated: writes and other projections keep
// going.
func (r *Runner) stall(ctx context.Context, e event.Event, cause error) error {
	r.stalled.Store(true)
	r.tracker.Stalled(cause)
	r.metrics.RecordProjectionStall(ctx, r.projection.Name())
	if r.joins != nil {
		r.joins.ViewStalled(r.projection.Name(), cause)
	}
	logging.Error().
		Add(logging.Projection(r.projection.Name())).
		Add(logging.AggregateID(e.Meta.AggregateID)).
		Add(logging.EventID(e.Meta.EventID)).
		Add(logging.Sequence(e.Sequence)).
		Add(logging.ErrorField(cause)).
		Msg("projection stalled")
	return &StalledProjectionError{Projection: r.projection.Name(), Cause: cause}
}

// Projections supervises a set of runners sharing one journal and one join
// monitor. Each projection runs on its own goroutine; a stalled projection
// never blocks the others.
type Projections struct {
	journal event.Journal
	joins   *JoinMonitor
	retry   resilience.RetryConfig
	metrics telemetry.Metrics

	mu      sync.Mutex
	runners map[string]*Runner
	wg      sync.WaitGroup
	started bool
}

// ProjectionsConfig configures the supervisor.
type ProjectionsConfig struct {
	Journal event.Journal
	Retry   resilience.RetryConfig
	Metrics telemetry.Metrics
}

// NewProjections creates a supervisor over the given journal.
func NewProjections(config ProjectionsConfig) (*Projections, error) {
	if config.Journal == nil {
		return nil, errors.New("journal is required")
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &Projections{
		journal: config.Journal,
		joins:   NewJoinMonitor(),
		retry:   config.Retry,
		metrics: metrics,
		runners: make(map[string]*Runner),
	}, nil
}

// Joins exposes the shared join monitor.
func (p *Projections) Joins() *JoinMonitor {
	return p.joins
}

// Attach registers a projection with an optional tag filter. Attach must
// be called before Start.
func (p *Projections) Attach(projection Projection, filter event.Filter) error {
	runner, err := NewRunner(RunnerConfig{
		Projection: projection,
		Journal:    p.journal,
		Filter:     filter,
		Retry:      p.retry,
		Joins:      p.joins,
		Metrics:    p.metrics,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("projections already started")
	}
	if _, exists := p.runners[projection.Name()]; exists {
		return fmt.Errorf("projection %s already attached", projection.Name())
	}
	p.runners[projection.Name()] = runner
	return nil
}

// Start launches one goroutine per attached projection. It returns
// immediately; runners stop when ctx is cancelled.
func (p *Projections) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("projections already started")
	}
	p.started = true

	for name, runner := range p.runners {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := runner.Run(ctx); err != nil {
				logging.Warn().
					Add(logging.Projection(name)).
					Add(logging.ErrorField(err)).
					Msg("projection runner stopped")
			}
		}()
	}
	return nil
}

// Stalled reports whether the named projection has stalled.
func (p *Projections) Stalled(name string) bool {
	p.mu.Lock()
	runner, ok := p.runners[name]
	p.mu.Unlock()
	return ok && runner.Stalled()
}

// Wait blocks until every runner has stopped.
func (p *Projections) Wait() {
	p.wg.Wait()
}
