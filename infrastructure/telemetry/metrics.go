// Package telemetry provides OpenTelemetry metrics for the sourcing
// runtime.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the interface for metrics recording.
type Metrics interface {
	RecordCommand(ctx context.Context, kind string, accepted bool, duration time.Duration)
	RecordAppend(ctx context.Context, kind string, events int)
	RecordJournalFailure(ctx context.Context, kind string)
	RecordProjectionApply(ctx context.Context, projection string, duration time.Duration)
	RecordProjectionRetry(ctx context.Context, projection string)
	RecordProjectionStall(ctx context.Context, projection string)
	RecordJoin(ctx context.Context, projection string, success bool, duration time.Duration)
	IncLiveWorkers(ctx context.Context, kind string)
	DecLiveWorkers(ctx context.Context, kind string)
}

// MetricsProvider provides access to metrics instruments.
type MetricsProvider struct {
	meter metric.Meter

	commands          metric.Int64Counter
	eventsAppended    metric.Int64Counter
	journalFailures   metric.Int64Counter
	projectionRetries metric.Int64Counter
	projectionStalls  metric.Int64Counter

	commandDuration    metric.Float64Histogram
	projectionDuration metric.Float64Histogram
	joinDuration       metric.Float64Histogram

	liveWorkers metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter.
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/sourcing-go",
		MeterVersion: "1.0.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config = DefaultMetricsConfig()
	}

	meter := otel.GetMeterProvider().Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{meter: meter}
	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})
	return mp
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	var err error

	mp.commands, err = mp.meter.Int64Counter(
		"sourcing.commands",
		metric.WithDescription("Number of commands processed"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return err
	}

	mp.eventsAppended, err = mp.meter.Int64Counter(
		"sourcing.events.appended",
		metric.WithDescription("Number of events appended to the journal"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	mp.journalFailures, err = mp.meter.Int64Counter(
		"sourcing.journal.failures",
		metric.WithDescription("Number of journal append failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	mp.projectionRetries, err = mp.meter.Int64Counter(
		"sourcing.projection.retries",
		metric.WithDescription("Number of projection handler retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return err
	}

	mp.projectionStalls, err = mp.meter.Int64Counter(
		"sourcing.projection.stalls",
		metric.WithDescription("Number of projections marked stalled"),
		metric.WithUnit("{stall}"),
	)
	if err != nil {
		return err
	}

	mp.commandDuration, err = mp.meter.Float64Histogram(
		"sourcing.command.duration",
		metric.WithDescription("Duration of command handling"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.projectionDuration, err = mp.meter.Float64Histogram(
		"sourcing.projection.duration",
		metric.WithDescription("Duration of projection handler calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.joinDuration, err = mp.meter.Float64Histogram(
		"sourcing.join.duration",
		metric.WithDescription("Duration of projection joins"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	mp.liveWorkers, err = mp.meter.Int64UpDownCounter(
		"sourcing.workers.live",
		metric.WithDescription("Number of live aggregate workers"),
		metric.WithUnit("{worker}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	return mp.initErr
}

// RecordCommand records a processed command.
func (mp *MetricsProvider) RecordCommand(ctx context.Context, kind string, accepted bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("aggregate.kind", kind),
		attribute.Bool("accepted", accepted),
	}
	mp.commands.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.commandDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordAppend records appended events.
func (mp *MetricsProvider) RecordAppend(ctx context.Context, kind string, events int) {
	mp.eventsAppended.Add(ctx, int64(events), metric.WithAttributes(
		attribute.String("aggregate.kind", kind),
	))
}

// RecordJournalFailure records a journal append failure.
func (mp *MetricsProvider) RecordJournalFailure(ctx context.Context, kind string) {
	mp.journalFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aggregate.kind", kind),
	))
}

// RecordProjectionApply records a successful projection handler call.
func (mp *MetricsProvider) RecordProjectionApply(ctx context.Context, projection string, duration time.Duration) {
	mp.projectionDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordProjectionRetry records a projection handler retry round.
func (mp *MetricsProvider) RecordProjectionRetry(ctx context.Context, projection string) {
	mp.projectionRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordProjectionStall records a stalled projection.
func (mp *MetricsProvider) RecordProjectionStall(ctx context.Context, projection string) {
	mp.projectionStalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("projection", projection),
	))
}

// RecordJoin records a completed projection join.
func (mp *MetricsProvider) RecordJoin(ctx context.Context, projection string, success bool, duration time.Duration) {
	mp.joinDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("projection", projection),
		attribute.Bool("success", success),
	))
}

// IncLiveWorkers increments the live worker gauge.
func (mp *MetricsProvider) IncLiveWorkers(ctx context.Context, kind string) {
	mp.liveWorkers.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate.kind", kind)))
}

// DecLiveWorkers decrements the live worker gauge.
func (mp *MetricsProvider) DecLiveWorkers(ctx context.Context, kind string) {
	mp.liveWorkers.Add(ctx, -1, metric.WithAttributes(attribute.String("aggregate.kind", kind)))
}

// NoopMetrics is a no-op metrics provider for testing or when metrics are
// disabled.
type NoopMetrics struct{}

// RecordCommand is a no-op.
func (NoopMetrics) RecordCommand(ctx context.Context, kind string, accepted bool, duration time.Duration) {
}

// RecordAppend is a no-op.
func (NoopMetrics) RecordAppend(ctx context.Context, kind string, events int) {}

// RecordJournalFailure is a no-op.
func (NoopMetrics) RecordJournalFailure(ctx context.Context, kind string) {}

// RecordProjectionApply is a no-op.
func (NoopMetrics) RecordProjectionApply(ctx context.Context, projection string, duration time.Duration) {
}

// RecordProjectionRetry is a no-op.
func (NoopMetrics) RecordProjectionRetry(ctx context.Context, projection string) {}

// RecordProjectionStall is a no-op.
func (NoopMetrics) RecordProjectionStall(ctx context.Context, projection string) {}

// RecordJoin is a no-op.
func (NoopMetrics) RecordJoin(ctx context.Context, projection string, success bool, duration time.Duration) {
}

// IncLiveWorkers is a no-op.
func (NoopMetrics) IncLiveWorkers(ctx context.Context, kind string) {}

// DecLiveWorkers is a no-op.
func (NoopMetrics) DecLiveWorkers(ctx context.Context, kind string) {}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*MetricsProvider)(nil)
	_ Metrics = NoopMetrics{}
)
