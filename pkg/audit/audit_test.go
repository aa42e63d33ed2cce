package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/storage"
)

var fixedTime = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func sampleLog() dlp.DetectionLog {
	return dlp.DetectionLog{
		{RowIndex: 1, Column: "id", Type: dlp.PIITypeAadhaar, Value: "234123412346", Masked: "2341XXXX2346", Start: 0, End: 12, Confidence: 0.95, Context: "Asha 234123412346"},
		{RowIndex: 1, Column: "id", Type: dlp.PIITypeBankAccount, Value: "234123412346", Masked: "ACCT_1", Start: 0, End: 12, Confidence: 0.6, Context: "Asha 234123412346"},
		{RowIndex: 2, Column: "id", Type: dlp.PIITypeAadhaar, Value: "1234 5678 9012", Masked: "1234 XXXX 9012", Start: 0, End: 14, Confidence: 0.7, Context: "Ravi, \"1234 5678 9012\""},
		{RowIndex: 3, Column: "id", Type: dlp.PIITypeAadhaar, Value: "234123412346", Masked: "2341XXXX2346", Start: 0, End: 12, Confidence: 0.95, Context: "Meera 234123412346"},
	}
}

func TestAggregator_Summary(t *testing.T) {
	s := Summarize(sampleLog(), Meta{Timestamp: fixedTime, InputFile: "in.csv", OutputFile: "out.csv", Format: "csv", Threshold: 0.5})

	assert.Equal(t, 4, s.TotalDetections)
	assert.Equal(t, map[dlp.PIIType]int{dlp.PIITypeAadhaar: 3, dlp.PIITypeBankAccount: 1}, s.CountsByType)
	assert.Equal(t, map[dlp.PIIType]int{dlp.PIITypeAadhaar: 2, dlp.PIITypeBankAccount: 1}, s.UniqueValuesByType)
	assert.InDelta(t, (0.95+0.7+0.95)/3, s.AverageConfidenceByType[dlp.PIITypeAadhaar], 1e-9)
	assert.InDelta(t, 0.6, s.AverageConfidenceByType[dlp.PIITypeBankAccount], 1e-9)
	assert.InDelta(t, 2.0/3, s.EstimatedPrecision[dlp.PIITypeAadhaar], 1e-9)
	// No detection above 0.8, so the floor applies.
	assert.InDelta(t, 0.5, s.EstimatedPrecision[dlp.PIITypeBankAccount], 1e-9)

	_, present := s.CountsByType[dlp.PIITypeEmail]
	assert.False(t, present)
	assert.Equal(t, fixedTime, s.Timestamp)
}

func TestAggregator_SessionsAreIndependent(t *testing.T) {
	a := NewAggregator()
	b := NewAggregator()
	a.AddAll(sampleLog())

	assert.Equal(t, 4, a.Summary(Meta{}).TotalDetections)
	assert.Equal(t, 0, b.Summary(Meta{}).TotalDetections)
	assert.Empty(t, b.Summary(Meta{}).CountsByType)
	assert.False(t, b.Summary(Meta{}).Timestamp.IsZero())
}

func TestSummary_Text(t *testing.T) {
	s := Summarize(sampleLog(), Meta{Timestamp: fixedTime, InputFile: "in.csv", OutputFile: "out.csv", Format: "csv", Threshold: 0.5})
	text := s.Text()

	assert.Contains(t, text, "Total detections: 4")
	assert.Contains(t, text, "2026-03-01T10:30:00Z")
	lines := strings.Split(text, "\n")
	var aadhaar, bank int
	for i, l := range lines {
		if strings.Contains(l, "aadhaar") {
			aadhaar = i
			assert.Contains(t, l, "0.867")
		}
		if strings.Contains(l, "bank_account") {
			bank = i
			assert.Contains(t, l, "0.500")
		}
	}
	assert.Less(t, aadhaar, bank)

	empty := Summarize(nil, Meta{Timestamp: fixedTime}).Text()
	assert.Contains(t, empty, "No PII detected.")
}

func TestDetectionsCSV(t *testing.T) {
	data, err := DetectionsCSV(sampleLog())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "row_index,column_name,pii_type,raw_value,masked_value,start,end,confidence,context", lines[0])
	assert.Equal(t, "1,id,aadhaar,234123412346,2341XXXX2346,0,12,0.950,Asha 234123412346", lines[1])
	assert.Equal(t, `2,id,aadhaar,1234 5678 9012,1234 XXXX 9012,0,14,0.700,"Ravi, ""1234 5678 9012"""`, lines[3])

	back, err := ReadDetections(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, sampleLog(), back)
}

func TestReadDetections_Errors(t *testing.T) {
	_, err := ReadDetections(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadDetections(strings.NewReader("a,b\n"))
	assert.Error(t, err)

	_, err = ReadDetections(strings.NewReader(strings.Join(DetectionsHeader, ",") + "\nx,id,aadhaar,v,m,0,1,0.9,c\n"))
	assert.Error(t, err)
}

func TestStoreSink(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := NewStoreSink(store)
	rec := Record{
		ID:         "run-1",
		Summary:    Summarize(sampleLog(), Meta{Timestamp: fixedTime, Format: "csv"}),
		Detections: sampleLog(),
	}

	require.NoError(t, sink.Write(context.Background(), rec))

	keys, err := store.List(context.Background(), "reports/run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reports/run-1/detections.csv",
		"reports/run-1/summary.json",
		"reports/run-1/summary.txt",
	}, keys)

	raw, err := store.Get(context.Background(), "reports/run-1/summary.json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.EqualValues(t, 4, decoded["total_detections"])
	assert.Contains(t, decoded, "estimated_precision")
}

func TestFlatStoreSink(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, NewFlatStoreSink(store).Write(context.Background(), Record{ID: "ignored", Summary: Summarize(nil, Meta{})}))

	keys, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"detections.csv", "summary.json", "summary.txt"}, keys)
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, Record) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Write(context.Context, Record) error {
	c.n++
	return nil
}

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := MultiSink{failingSink{boom}, nil, counter}

	err := m.Write(context.Background(), Record{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.n)

	assert.NoError(t, Discard.Write(context.Background(), Record{}))
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer sink.Close()

	first := Record{ID: "run-1", Summary: Summarize(sampleLog(), Meta{Timestamp: fixedTime, InputFile: "a.csv", Format: "csv"}), Detections: sampleLog()}
	second := Record{ID: "run-2", Summary: Summarize(sampleLog()[:1], Meta{Timestamp: fixedTime.Add(time.Hour), InputFile: "b.json", Format: "json"}), Detections: sampleLog()[:1]}
	require.NoError(t, sink.Write(ctx, first))
	require.NoError(t, sink.Write(ctx, second))

	// Duplicate ids are rejected and leave no partial rows behind.
	assert.Error(t, sink.Write(ctx, first))

	got, err := sink.Summary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalDetections)
	assert.Equal(t, 3, got.CountsByType[dlp.PIITypeAadhaar])
	assert.True(t, fixedTime.Equal(got.Timestamp))

	_, err = sink.Summary(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	runs, err := sink.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "json", runs[0].Format)
	assert.Equal(t, 1, runs[0].TotalDetections)

	stats, err := sink.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, map[string]int{"aadhaar": 4, "bank_account": 1}, stats.CountsByType)
}

func TestSQLiteSink_RunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer sink.Close()

	base := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	for i, at := range []time.Time{base, base.Add(100 * time.Millisecond), base.Add(-time.Second)} {
		meta := Meta{Timestamp: at, InputFile: "in.csv", OutputFile: "out.csv", Format: "csv", Threshold: 0.7}
		rec := Record{ID: fmt.Sprintf("run-%d", i), Summary: Summarize(nil, meta)}
		require.NoError(t, sink.Write(ctx, rec))
	}

	runs, err := sink.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"run-1", "run-0", "run-2"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.True(t, base.Add(100*time.Millisecond).Equal(runs[0].Timestamp))
	assert.Equal(t, "out.csv", runs[0].OutputFile)
	assert.Equal(t, 0.7, runs[0].Threshold)
}
