// Package observe records pipeline and HTTP metrics through OpenTelemetry and
// exposes them for Prometheus scraping.
//
// Tests should build Metrics with NewMetrics over their own MeterProvider so
// instruments do not leak between cases.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"whisperflow/internal/pipeline"
	"whisperflow/internal/services"
	"whisperflow/internal/stage"
)

const meterName = "whisperflow"

// Metrics holds the application instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// StageDuration covers load plus body per stage, labelled by stage and outcome.
	StageDuration metric.Float64Histogram
	// ModelLoadDuration is the loader time alone.
	ModelLoadDuration metric.Float64Histogram

	Runs        metric.Int64Counter
	RunWarnings metric.Int64Counter
	ActiveRuns  metric.Int64UpDownCounter
	Uploads     metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

// Stage runs take seconds to tens of minutes.
var stageBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400}

var httpBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("whisperflow.stage.duration",
		metric.WithDescription("Wall time of a pipeline stage including model load."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("whisperflow.model.load.duration",
		metric.WithDescription("Time spent loading a stage model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("whisperflow.runs",
		metric.WithDescription("Finished pipeline runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RunWarnings, err = m.Int64Counter("whisperflow.run.warnings",
		metric.WithDescription("Warnings recorded on completed runs."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("whisperflow.runs.active",
		metric.WithDescription("Runs currently executing."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("whisperflow.uploads",
		metric.WithDescription("Accepted uploads by media kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("whisperflow.http.request.duration",
		metric.WithDescription("HTTP request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// ObserveStage records a stage observation. It matches the pipeline's stage
// observer signature.
func (m *Metrics) ObserveStage(obs stage.Observation) {
	if m == nil {
		return
	}
	ctx := context.Background()
	outcome := outcomeOf(obs.Err)
	attrs := metric.WithAttributes(
		attribute.String("stage", obs.Stage),
		attribute.String("outcome", outcome),
	)
	m.StageDuration.Record(ctx, (obs.LoadDuration + obs.BodyDuration).Seconds(), attrs)
	if obs.LoadDuration > 0 {
		m.ModelLoadDuration.Record(ctx, obs.LoadDuration.Seconds(), metric.WithAttributes(attribute.String("stage", obs.Stage)))
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, 1)
}

// RunFinished records the terminal state of a run.
func (m *Metrics) RunFinished(ctx context.Context, snap pipeline.Snapshot) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(ctx, -1)
	attrs := []attribute.KeyValue{attribute.String("outcome", string(snap.State))}
	if snap.Err != nil {
		attrs = append(attrs, attribute.String("error_kind", string(services.Details(snap.Err).Kind)))
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	if n := len(snap.Warnings); n > 0 {
		m.RunWarnings.Add(ctx, int64(n))
	}
}

// UploadAccepted counts an upload by media kind.
func (m *Metrics) UploadAccepted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return string(services.Details(err).Kind)
}
