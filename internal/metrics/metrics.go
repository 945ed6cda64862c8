// Package metrics holds the OpenTelemetry instruments recorded by rubricwatch.
//
// Instruments are created from any [metric.MeterProvider]; [InitProvider]
// installs an SDK provider bridged to Prometheus so the server can expose
// them on /metrics. Tests should build [Metrics] from a provider backed by an
// sdkmetric.ManualReader.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all rubricwatch metrics.
const meterName = "github.com/dyluth/rubricwatch"

// Outcome attribute values.
const (
	OutcomeOK          = "ok"
	OutcomeComplete    = "complete"
	OutcomeSkipped     = "skipped"
	OutcomeNoCriteria  = "no_criteria"
	OutcomeWriteFailed = "write_failed"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeUnparsable  = "unparsable"
)

// Metrics holds all instruments. All fields are safe for concurrent use.
type Metrics struct {
	// Rounds counts evaluation rounds. Attribute: outcome.
	Rounds metric.Int64Counter

	// RoundDuration tracks end-to-end evaluation round latency.
	RoundDuration metric.Float64Histogram

	// JudgeDuration tracks judge call latency. Attribute: outcome.
	JudgeDuration metric.Float64Histogram

	// Transitions counts accepted progress transitions. Attribute: status (the new status).
	Transitions metric.Int64Counter

	// Attribution counts resolver corrections. Attribute: kind (dropped, demoted, rerouted).
	Attribution metric.Int64Counter

	// Releases counts release operations. Attribute: outcome.
	Releases metric.Int64Counter

	// Broadcasts counts published snapshots. Attribute: outcome (ok, error).
	Broadcasts metric.Int64Counter

	// ActiveViewers tracks connected websocket viewers.
	ActiveViewers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model calls of a few hundred milliseconds up to the judge timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// New creates a fully initialised Metrics from mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Rounds, err = m.Int64Counter("rubricwatch.rounds",
		metric.WithDescription("Evaluation rounds by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RoundDuration, err = m.Float64Histogram("rubricwatch.round.duration",
		metric.WithDescription("Latency of a full evaluation round."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JudgeDuration, err = m.Float64Histogram("rubricwatch.judge.duration",
		metric.WithDescription("Latency of judge calls by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Transitions, err = m.Int64Counter("rubricwatch.progress.transitions",
		metric.WithDescription("Accepted progress transitions by new status."),
	); err != nil {
		return nil, err
	}
	if met.Attribution, err = m.Int64Counter("rubricwatch.evidence.corrections",
		metric.WithDescription("Judge proposals dropped, demoted or re-routed by the resolver."),
	); err != nil {
		return nil, err
	}
	if met.Releases, err = m.Int64Counter("rubricwatch.releases",
		metric.WithDescription("Release operations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Broadcasts, err = m.Int64Counter("rubricwatch.broadcasts",
		metric.WithDescription("Snapshot broadcasts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveViewers, err = m.Int64UpDownCounter("rubricwatch.active_viewers",
		metric.WithDescription("Number of connected websocket viewers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns Metrics that record nothing.
func Nop() *Metrics {
	met, err := New(noop.NewMeterProvider())
	if err != nil {
		panic("metrics: noop provider failed: " + err.Error())
	}
	return met
}

// RecordRound records one round's outcome and duration.
func (m *Metrics) RecordRound(ctx context.Context, outcome string, seconds float64) {
	m.Rounds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != OutcomeSkipped {
		m.RoundDuration.Record(ctx, seconds)
	}
}

// RecordJudge records a judge call.
func (m *Metrics) RecordJudge(ctx context.Context, outcome string, seconds float64) {
	m.JudgeDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransition records one accepted transition into status.
func (m *Metrics) RecordTransition(ctx context.Context, status string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAttribution records resolver corrections of one kind. Zero counts are skipped.
func (m *Metrics) RecordAttribution(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.Attribution.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRelease records a release outcome.
func (m *Metrics) RecordRelease(ctx context.Context, outcome string) {
	m.Releases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBroadcast records a broadcast attempt.
func (m *Metrics) RecordBroadcast(ctx context.Context, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.Broadcasts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AddViewers adjusts the connected viewer count by delta.
func (m *Metrics) AddViewers(ctx context.Context, delta int64) {
	m.ActiveViewers.Add(ctx, delta)
}
