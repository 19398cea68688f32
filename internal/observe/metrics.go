// Package observe provides application-wide observability primitives for
// Proctora: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Proctora metrics.
const meterName = "github.com/MrWong99/proctora"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Interview Service client ---

	// ServiceDuration tracks Interview Service call latency. Use with attribute:
	//   attribute.String("op", ...)
	ServiceDuration metric.Float64Histogram

	// ServiceRequests counts Interview Service calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	ServiceRequests metric.Int64Counter

	// --- Proctoring ---

	// Violations counts debounced violations. Use with attribute:
	//   attribute.String("kind", ...)
	Violations metric.Int64Counter

	// StrikeReportFailures counts strike reports that were dropped because the
	// service call failed.
	StrikeReportFailures metric.Int64Counter

	// Terminations counts sessions ended by the proctoring monitor.
	Terminations metric.Int64Counter

	// --- Interview sessions ---

	// Narrations counts narration requests. Use with attribute:
	//   attribute.String("result", "asset"|"synth"|"dropped"|"failed"|"superseded")
	Narrations metric.Int64Counter

	// Outcomes counts finished views by final status. Use with attribute:
	//   attribute.String("status", ...)
	Outcomes metric.Int64Counter

	// --- Gauges ---

	// ActiveViews tracks the number of open interview views.
	ActiveViews metric.Int64UpDownCounter

	// ActiveConnections tracks the number of connected host WebSockets.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for calls
// to the Interview Service, which may wait on language-model generation.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ServiceDuration, err = m.Float64Histogram("proctora.service.duration",
		metric.WithDescription("Latency of Interview Service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ServiceRequests, err = m.Int64Counter("proctora.service.requests",
		metric.WithDescription("Total Interview Service calls by operation and status."),
	); err != nil {
		return nil, err
	}

	if met.Violations, err = m.Int64Counter("proctora.violations",
		metric.WithDescription("Total debounced proctoring violations by kind."),
	); err != nil {
		return nil, err
	}
	if met.StrikeReportFailures, err = m.Int64Counter("proctora.strike.report_failures",
		metric.WithDescription("Strike reports dropped because the service call failed."),
	); err != nil {
		return nil, err
	}
	if met.Terminations, err = m.Int64Counter("proctora.terminations",
		metric.WithDescription("Sessions terminated by the proctoring monitor."),
	); err != nil {
		return nil, err
	}

	if met.Narrations, err = m.Int64Counter("proctora.narrations",
		metric.WithDescription("Narration requests by result."),
	); err != nil {
		return nil, err
	}
	if met.Outcomes, err = m.Int64Counter("proctora.outcomes",
		metric.WithDescription("Closed interview views by final session status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveViews, err = m.Int64UpDownCounter("proctora.active_views",
		metric.WithDescription("Number of open interview views."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("proctora.active_connections",
		metric.WithDescription("Number of connected host WebSockets."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("proctora.http.request.duration",
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

// RecordServiceCall records one Interview Service call with its latency in
// seconds and outcome status ("ok" or an error class).
func (m *Metrics) RecordServiceCall(ctx context.Context, op, status string, seconds float64) {
	m.ServiceRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
	m.ServiceDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordViolation records one debounced violation of the given kind.
func (m *Metrics) RecordViolation(ctx context.Context, kind string) {
	m.Violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordNarration records one narration request with its result.
func (m *Metrics) RecordNarration(ctx context.Context, result string) {
	m.Narrations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordOutcome records the final status of a closed view.
func (m *Metrics) RecordOutcome(ctx context.Context, status string) {
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
