// Package document applies the dlp redactor to every field of a tabular,
// record or free-text document and assembles the masked document together
// with the detection log of the run.
package document

import (
	"context"
	"fmt"

	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/domain"
)

// Column names reported for free-text documents.
const (
	ColumnText     = "text"
	ColumnPDFText  = "pdf_text"
	ColumnHTMLText = "html_text"
)

// Session is one document run. It owns the detection log and must not be
// shared between concurrent documents.
type Session struct {
	redactor  *dlp.Redactor
	threshold float64
	log       dlp.DetectionLog
}

// NewSession starts a run with a fixed threshold. A nil redactor uses the
// default registry.
func NewSession(redactor *dlp.Redactor, threshold float64) *Session {
	if redactor == nil {
		redactor = dlp.NewRedactor(nil)
	}
	return &Session{redactor: redactor, threshold: threshold}
}

// Field redacts one field, tags its detections with row and column and
// appends them to the log.
func (s *Session) Field(row int, column, text, surrounding string) string {
	if text == "" {
		return text
	}
	out, dets := s.redactor.Redact(text, surrounding, s.threshold)
	for _, d := range dets {
		d.RowIndex = row
		d.Column = column
		s.log = append(s.log, d)
	}
	return out
}

// Log returns the detections recorded so far.
func (s *Session) Log() dlp.DetectionLog {
	return s.log
}

// Threshold returns the confidence threshold of the run.
func (s *Session) Threshold() float64 {
	return s.threshold
}

// Redact masks data according to its format and returns the masked document.
// The detections are recorded on s. name is only used in errors.
func Redact(ctx context.Context, name string, f Format, data []byte, s *Session) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch f {
	case FormatCSV:
		return redactDelimited(ctx, name, data, ',', s)
	case FormatTSV:
		return redactDelimited(ctx, name, data, '\t', s)
	case FormatXLSX:
		return redactWorkbook(ctx, name, data, s)
	case FormatJSON:
		return redactRecords(ctx, name, data, s)
	case FormatText:
		return redactPlainText(name, data, s)
	case FormatPDF:
		return redactPDF(name, data, s)
	case FormatHTML:
		return redactHTML(name, data, s)
	case FormatUnknown:
		return nil, domain.UnsupportedFormat("redact", name, fmt.Errorf("format could not be determined"))
	default:
		return nil, domain.UnsupportedFormat("redact", name, fmt.Errorf("format %d", int(f)))
	}
}
