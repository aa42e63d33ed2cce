package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-redact/pkg/domain"
)

// Outcome classifies how a document run ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeUnsupportedFormat Outcome = "unsupported_format"
	OutcomeMalformedInput    Outcome = "malformed_input"
	OutcomeIOFailure         Outcome = "io_failure"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeError             Outcome = "error"
)

// OutcomeOf maps a processing error to its outcome label.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case domain.IsUnsupportedFormat(err):
		return OutcomeUnsupportedFormat
	case domain.IsMalformedInput(err):
		return OutcomeMalformedInput
	case domain.IsIOFailure(err):
		return OutcomeIOFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	documentCounter   metric.Int64Counter
	detectionCounter  metric.Int64Counter
	durationHistogram metric.Float64Histogram
)

// DocumentMetrics captures the fields needed to record one document run.
type DocumentMetrics struct {
	Format       string
	Outcome      Outcome
	Duration     time.Duration
	CountsByType map[string]int
}

// RecordDocumentMetrics emits the counters and histogram describing a run.
func RecordDocumentMetrics(ctx context.Context, m DocumentMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("document.format", m.Format),
		attribute.String("document.outcome", string(m.Outcome)),
	}
	documentCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		durationHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	for kind, n := range m.CountsByType {
		if n <= 0 {
			continue
		}
		detectionCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("document.format", m.Format),
			attribute.String("pii.type", kind),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(TracerName)

		documentCounter, metricsInitErr = meter.Int64Counter(
			"redact.documents_total",
			metric.WithDescription("Documents processed partitioned by format and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		detectionCounter, metricsInitErr = meter.Int64Counter(
			"redact.detections_total",
			metric.WithDescription("Accepted PII detections partitioned by type"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		durationHistogram, metricsInitErr = meter.Float64Histogram(
			"redact.document.duration_ms",
			metric.WithDescription("Observed document processing latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// AnnotateDocument attaches the coarse result of a run to span. Only counts
// and type names are recorded.
func AnnotateDocument(span trace.Span, format string, threshold float64, countsByType map[string]int) {
	if span == nil || !span.IsRecording() {
		return
	}

	total := 0
	kinds := make([]string, 0, len(countsByType))
	for kind, n := range countsByType {
		total += n
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	span.SetAttributes(
		attribute.String("document.format", format),
		attribute.Float64("redact.threshold", threshold),
		attribute.Int("redact.detections.count", total),
		attribute.StringSlice("redact.detections.types", kinds),
	)
}

// RecordFailure marks span as failed with the outcome of err.
func RecordFailure(span trace.Span, err error) {
	if span == nil || !span.IsRecording() || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(OutcomeOf(err)))
	span.SetAttributes(attribute.String("document.outcome", string(OutcomeOf(err))))
}
