package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/storage"
)

// Record is everything the audit trail keeps about one processed document.
type Record struct {
	ID         string
	Summary    Summary
	Detections dlp.DetectionLog
}

// Sink persists audit records. Write is only called for runs that completed
// successfully.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// StoreSink writes the detections table and the summary (JSON and text) into
// an artifact store.
type StoreSink struct {
	store storage.ArtifactStore
	key   func(id, file string) string
}

// NewStoreSink writes reports under reports/<id>/.
func NewStoreSink(store storage.ArtifactStore) *StoreSink {
	return &StoreSink{store: store, key: storage.ReportKey}
}

// NewFlatStoreSink writes reports at the root of store, ignoring the run id.
// It suits a store dedicated to one run's report directory.
func NewFlatStoreSink(store storage.ArtifactStore) *StoreSink {
	return &StoreSink{store: store, key: func(_, file string) string { return file }}
}

// Write stores the three report artifacts of rec.
func (s *StoreSink) Write(ctx context.Context, rec Record) error {
	detections, err := DetectionsCSV(rec.Detections)
	if err != nil {
		return fmt.Errorf("audit: render detections: %w", err)
	}
	summary, err := SummaryJSON(rec.Summary)
	if err != nil {
		return fmt.Errorf("audit: render summary: %w", err)
	}

	artifacts := []struct {
		file string
		data []byte
	}{
		{storage.DetectionsFile, detections},
		{storage.SummaryJSONFile, summary},
		{storage.SummaryTextFile, []byte(rec.Summary.Text())},
	}
	for _, a := range artifacts {
		if err := s.store.Put(ctx, s.key(rec.ID, a.file), a.data); err != nil {
			return fmt.Errorf("audit: store %s: %w", a.file, err)
		}
	}
	return nil
}

// SummaryJSON renders s with two-space indentation and without HTML escaping.
func SummaryJSON(s Summary) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

// Write calls every sink even when an earlier one fails.
func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write(context.Context, Record) error { return nil }
