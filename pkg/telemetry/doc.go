// Package telemetry wires OpenTelemetry exporters and meters for the redaction
// service.
//
// It centralises trace provider setup and offers helpers that attach document
// format, detection counts and failure kinds to spans and metrics. Raw PII
// values never reach telemetry: only types, counts and offsets are recorded.
package telemetry
