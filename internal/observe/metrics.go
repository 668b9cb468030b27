// Package observe provides application-wide observability primitives for
// EchoGarden: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge; no /metrics HTTP endpoint is served
// by this package or by the HTTP API. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all EchoGarden metrics.
const meterName = "github.com/echogarden-io/echogarden"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// IngestDuration tracks end-to-end capture-to-card pipeline latency
	// (doc_parse/ocr/asr through summarizer, extractor, embed, graph_builder).
	IngestDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// RetrievalDuration tracks hybrid retrieval latency across the
	// FTS/semantic/graph/recency fan-out.
	RetrievalDuration metric.Float64Histogram

	// QADuration tracks end-to-end /chat latency (retrieval, weaver, verifier).
	QADuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool-registry dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// JobsEnqueued counts jobs added to the capture job queue. Use with
	// attribute: attribute.String("type", ...).
	JobsEnqueued metric.Int64Counter

	// JobsCompleted counts jobs that finished successfully.
	JobsCompleted metric.Int64Counter

	// JobsDead counts jobs that exhausted their retry budget.
	JobsDead metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolErrors counts tool invocations that returned an error. Use with
	// attribute: attribute.String("tool", ...).
	ToolErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of jobs currently queued for capture
	// processing.
	QueueDepth metric.Int64UpDownCounter

	// ActiveWorkers tracks the number of worker-pool goroutines currently
	// processing a job.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// sub-second retrieval fan-outs up to multi-second OCR/ASR pipeline stages.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IngestDuration, err = m.Float64Histogram("echogarden.ingest.duration",
		metric.WithDescription("Latency of the capture-to-card ingest pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("echogarden.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("echogarden.retrieval.duration",
		metric.WithDescription("Latency of hybrid retrieval (FTS/semantic/graph/recency fan-out)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QADuration, err = m.Float64Histogram("echogarden.qa.duration",
		metric.WithDescription("End-to-end /chat latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("echogarden.tool_execution.duration",
		metric.WithDescription("Latency of tool-registry dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("echogarden.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("echogarden.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.JobsEnqueued, err = m.Int64Counter("echogarden.jobs.enqueued",
		metric.WithDescription("Total jobs added to the capture job queue, by type."),
	); err != nil {
		return nil, err
	}
	if met.JobsCompleted, err = m.Int64Counter("echogarden.jobs.completed",
		metric.WithDescription("Total jobs that completed successfully, by type."),
	); err != nil {
		return nil, err
	}
	if met.JobsDead, err = m.Int64Counter("echogarden.jobs.dead",
		metric.WithDescription("Total jobs that exhausted their retry budget, by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("echogarden.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolErrors, err = m.Int64Counter("echogarden.tool.errors",
		metric.WithDescription("Total tool invocations that errored, by tool name."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("echogarden.queue.depth",
		metric.WithDescription("Number of jobs currently queued for capture processing."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("echogarden.active_workers",
		metric.WithDescription("Number of worker-pool goroutines currently processing a job."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("echogarden.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set, plus ToolErrors when status is
// not "ok".
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ToolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// RecordJobEnqueued is a convenience method that records a job-enqueued
// counter increment and bumps QueueDepth.
func (m *Metrics) RecordJobEnqueued(ctx context.Context, jobType string) {
	m.JobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("type", jobType)))
	m.QueueDepth.Add(ctx, 1)
}

// RecordJobCompleted is a convenience method that records a job-completed
// counter increment and drops QueueDepth.
func (m *Metrics) RecordJobCompleted(ctx context.Context, jobType string) {
	m.JobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", jobType)))
	m.QueueDepth.Add(ctx, -1)
}

// RecordJobDead is a convenience method that records a job-dead counter
// increment and drops QueueDepth.
func (m *Metrics) RecordJobDead(ctx context.Context, jobType string) {
	m.JobsDead.Add(ctx, 1, metric.WithAttributes(attribute.String("type", jobType)))
	m.QueueDepth.Add(ctx, -1)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
