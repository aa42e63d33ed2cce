package domain

import (
	"errors"
	"fmt"
)

// Error kinds returned by document processing. Every failure surfaced by the
// processor matches exactly one of these through errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMalformedInput    = errors.New("malformed input")
	ErrIOFailure         = errors.New("io failure")
)

// ProcessingError wraps a failure with the operation and document it happened on.
type ProcessingError struct {
	Kind error
	Op   string
	Name string
	Err  error
}

func (e *ProcessingError) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s)", e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error kind of e.
func (e *ProcessingError) Is(target error) bool {
	return target == e.Kind
}

// UnsupportedFormat builds an ErrUnsupportedFormat error.
func UnsupportedFormat(op, name string, err error) error {
	return &ProcessingError{Kind: ErrUnsupportedFormat, Op: op, Name: name, Err: err}
}

// MalformedInput builds an ErrMalformedInput error.
func MalformedInput(op, name string, err error) error {
	return &ProcessingError{Kind: ErrMalformedInput, Op: op, Name: name, Err: err}
}

// IOFailure builds an ErrIOFailure error.
func IOFailure(op, name string, err error) error {
	return &ProcessingError{Kind: ErrIOFailure, Op: op, Name: name, Err: err}
}

// IsUnsupportedFormat checks if the error is an unsupported format failure.
func IsUnsupportedFormat(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat)
}

// IsMalformedInput checks if the error is a malformed input failure.
func IsMalformedInput(err error) bool {
	return errors.Is(err, ErrMalformedInput)
}

// IsIOFailure checks if the error is a read/write failure.
func IsIOFailure(err error) bool {
	return errors.Is(err, ErrIOFailure)
}

// ErrorResponse defines the JSON error model returned by the upload API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., UNSUPPORTED_FORMAT)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
