package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-redact/pkg/domain"
	"github.com/polisai/polis-redact/pkg/storage"
)

// Error codes returned in domain.ErrorResponse.
const (
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeMalformedInput    = "MALFORMED_INPUT"
	CodeIOFailure         = "IO_FAILURE"
	CodeMissingFile       = "MISSING_FILE"
	CodeMissingID         = "MISSING_ID"
	CodeInvalidThreshold  = "INVALID_THRESHOLD"
	CodeInvalidFiletype   = "INVALID_FILETYPE"
	CodeTooLarge          = "PAYLOAD_TOO_LARGE"
	CodeNotFound          = "NOT_FOUND"
	CodeCancelled         = "CANCELLED"
	CodeInternal          = "INTERNAL"
)

// statusOf maps an error to its HTTP status and error code.
func statusOf(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case domain.IsUnsupportedFormat(err):
		return http.StatusUnsupportedMediaType, CodeUnsupportedFormat
	case domain.IsMalformedInput(err):
		return http.StatusBadRequest, CodeMalformedInput
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest, CodeMalformedInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeCancelled
	case domain.IsIOFailure(err):
		return http.StatusInternalServerError, CodeIOFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError writes the JSON error model. Messages of server-side failures
// are replaced with the status text.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{Code: code, Message: message}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}
	writeJSON(w, status, resp)
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	writeError(w, r, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
