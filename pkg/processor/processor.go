// Package processor runs one document through detection, redaction and
// aggregation and hands the results to the output writer and the audit sink.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-redact/pkg/audit"
	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/document"
	"github.com/polisai/polis-redact/pkg/domain"
	"github.com/polisai/polis-redact/pkg/telemetry"
)

// sniffLen is how many leading bytes are handed to format detection.
const sniffLen = 512

// Request describes one document to process.
type Request struct {
	// ID identifies the run in the audit trail. A random UUID is used when empty.
	ID string
	// Name is the caller-supplied file name used for format detection and errors.
	Name string
	// Data holds the document. Reader is consulted only when Data is nil.
	Data   []byte
	Reader io.Reader
	// Format overrides detection unless it is FormatUnknown.
	Format    document.Format
	Threshold float64
	// OutputName is recorded in the summary.
	OutputName string
}

// Result is the outcome of a successful run.
type Result struct {
	ID         string
	Format     document.Format
	Summary    audit.Summary
	Detections dlp.DetectionLog
}

// Processor processes documents against a fixed registry. It is safe for
// concurrent use; every call owns its own session and aggregator.
type Processor struct {
	redactor *dlp.Redactor
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Raw values are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the timestamp source used for summaries.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a processor for reg. A nil registry selects dlp.DefaultRegistry.
func New(reg *dlp.Registry, opts ...Option) *Processor {
	p := &Processor{
		redactor: dlp.NewRedactor(reg),
		logger:   slog.Default(),
		tracer:   otel.Tracer(telemetry.TracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs req with the default registry. See Processor.Process.
func Process(ctx context.Context, req Request, out io.Writer, sink audit.Sink) (*Result, error) {
	return New(nil).Process(ctx, req, out, sink)
}

// Process redacts req, writes the audit record to sink and the masked
// document to out. Nothing is written unless the whole document was
// traversed; a nil sink discards the audit record.
func (p *Processor) Process(ctx context.Context, req Request, out io.Writer, sink audit.Sink) (res *Result, err error) {
	started := time.Now()
	format := req.Format

	ctx, span := p.tracer.Start(ctx, "document.process", trace.WithAttributes(
		attribute.String("document.name", req.Name),
	))
	defer func() {
		var counts map[string]int
		if res != nil {
			counts = countsOf(res.Summary)
		}
		telemetry.RecordDocumentMetrics(ctx, telemetry.DocumentMetrics{
			Format:       format.String(),
			Outcome:      telemetry.OutcomeOf(err),
			Duration:     time.Since(started),
			CountsByType: counts,
		})
		if err != nil {
			telemetry.RecordFailure(span, err)
			p.logger.Warn("document processing failed",
				"name", req.Name,
				"format", format.String(),
				"outcome", string(telemetry.OutcomeOf(err)),
				"error", err,
			)
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dlp.ValidateThreshold(req.Threshold); err != nil {
		return nil, domain.MalformedInput("validate", req.Name, err)
	}

	data, err := readInput(req)
	if err != nil {
		return nil, err
	}

	if format == document.FormatUnknown {
		format, err = document.DetectFormat(req.Name, head(data))
		if err != nil {
			return nil, err
		}
	}

	session := document.NewSession(p.redactor, req.Threshold)
	masked, err := document.Redact(ctx, req.Name, format, data, session)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	log := session.Log()
	summary := audit.Summarize(log, audit.Meta{
		Timestamp:  p.now(),
		InputFile:  req.Name,
		OutputFile: req.OutputName,
		Format:     format.String(),
		Threshold:  req.Threshold,
	})
	result := &Result{ID: id, Format: format, Summary: summary, Detections: log}

	if sink != nil {
		if err := sink.Write(ctx, audit.Record{ID: id, Summary: summary, Detections: log}); err != nil {
			return nil, domain.IOFailure("write audit", req.Name, err)
		}
	}

	if out != nil {
		if _, err := out.Write(masked); err != nil {
			return nil, domain.IOFailure("write output", req.Name, err)
		}
	}

	telemetry.AnnotateDocument(span, format.String(), req.Threshold, countsOf(summary))
	p.logger.Info("document processed",
		"id", id,
		"name", req.Name,
		"format", format.String(),
		"detections", summary.TotalDetections,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return result, nil
}

func readInput(req Request) ([]byte, error) {
	if req.Data != nil {
		return req.Data, nil
	}
	if req.Reader == nil {
		return nil, domain.MalformedInput("read", req.Name, errors.New("no document data"))
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, req.Reader); err != nil {
		return nil, domain.IOFailure("read", req.Name, fmt.Errorf("read input: %w", err))
	}
	return buf.Bytes(), nil
}

func head(data []byte) []byte {
	if len(data) > sniffLen {
		return data[:sniffLen]
	}
	return data
}

func countsOf(s audit.Summary) map[string]int {
	out := make(map[string]int, len(s.CountsByType))
	for t, n := range s.CountsByType {
		out[string(t)] = n
	}
	return out
}
