// Package audit aggregates and persists the detection log of a processing run.
package audit

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/polisai/polis-redact/pkg/dlp"
)

// precisionFloor is the lowest estimated precision reported for a type that
// has at least one detection.
const precisionFloor = 0.5

// highConfidence is the score above which a detection counts as precise.
const highConfidence = 0.8

// Meta describes the run a summary belongs to.
type Meta struct {
	Timestamp  time.Time
	InputFile  string
	OutputFile string
	Format     string
	Threshold  float64
}

// Summary is the aggregate view of one DetectionLog. Types without
// detections are absent from every map.
type Summary struct {
	Timestamp               time.Time               `json:"timestamp"`
	InputFile               string                  `json:"input_file"`
	OutputFile              string                  `json:"output_file"`
	Format                  string                  `json:"format"`
	Threshold               float64                 `json:"threshold"`
	TotalDetections         int                     `json:"total_detections"`
	CountsByType            map[dlp.PIIType]int     `json:"counts_by_type"`
	UniqueValuesByType      map[dlp.PIIType]int     `json:"unique_values_by_type"`
	AverageConfidenceByType map[dlp.PIIType]float64 `json:"average_confidence_by_type"`
	EstimatedPrecision      map[dlp.PIIType]float64 `json:"estimated_precision"`
}

// Aggregator accumulates per-type statistics for a single run. Create one per
// document; it is not safe for concurrent use.
type Aggregator struct {
	total   int
	counts  map[dlp.PIIType]int
	values  map[dlp.PIIType]map[string]struct{}
	confSum map[dlp.PIIType]float64
	high    map[dlp.PIIType]int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		counts:  make(map[dlp.PIIType]int),
		values:  make(map[dlp.PIIType]map[string]struct{}),
		confSum: make(map[dlp.PIIType]float64),
		high:    make(map[dlp.PIIType]int),
	}
}

// Add records one detection.
func (a *Aggregator) Add(d dlp.Detection) {
	a.total++
	a.counts[d.Type]++
	a.confSum[d.Type] += d.Confidence
	if d.Confidence > highConfidence {
		a.high[d.Type]++
	}
	seen, ok := a.values[d.Type]
	if !ok {
		seen = make(map[string]struct{})
		a.values[d.Type] = seen
	}
	seen[d.Value] = struct{}{}
}

// AddAll records every detection of log.
func (a *Aggregator) AddAll(log dlp.DetectionLog) {
	for _, d := range log {
		a.Add(d)
	}
}

// Summary builds the summary of everything added so far.
func (a *Aggregator) Summary(meta Meta) Summary {
	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s := Summary{
		Timestamp:               ts,
		InputFile:               meta.InputFile,
		OutputFile:              meta.OutputFile,
		Format:                  meta.Format,
		Threshold:               meta.Threshold,
		TotalDetections:         a.total,
		CountsByType:            make(map[dlp.PIIType]int, len(a.counts)),
		UniqueValuesByType:      make(map[dlp.PIIType]int, len(a.counts)),
		AverageConfidenceByType: make(map[dlp.PIIType]float64, len(a.counts)),
		EstimatedPrecision:      make(map[dlp.PIIType]float64, len(a.counts)),
	}

	for t, n := range a.counts {
		s.CountsByType[t] = n
		s.UniqueValuesByType[t] = len(a.values[t])
		s.AverageConfidenceByType[t] = a.confSum[t] / float64(n)
		s.EstimatedPrecision[t] = max(precisionFloor, float64(a.high[t])/float64(n))
	}
	return s
}

// Summarize aggregates a complete log in one step.
func Summarize(log dlp.DetectionLog, meta Meta) Summary {
	a := NewAggregator()
	a.AddAll(log)
	return a.Summary(meta)
}

// Text renders the summary as a human-readable report. Types are listed in
// registry order.
func (s Summary) Text() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "PII redaction summary")
	fmt.Fprintf(&buf, "Timestamp:        %s\n", s.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Input file:       %s\n", s.InputFile)
	fmt.Fprintf(&buf, "Output file:      %s\n", s.OutputFile)
	fmt.Fprintf(&buf, "Format:           %s\n", s.Format)
	fmt.Fprintf(&buf, "Threshold:        %.2f\n", s.Threshold)
	fmt.Fprintf(&buf, "Total detections: %d\n", s.TotalDetections)

	if s.TotalDetections == 0 {
		fmt.Fprintln(&buf, "\nNo PII detected.")
		return buf.String()
	}

	fmt.Fprintln(&buf)
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "TYPE\tCOUNT\tUNIQUE\tAVG CONFIDENCE\tEST. PRECISION\t")
	for _, t := range dlp.AllPIITypes() {
		n, ok := s.CountsByType[t]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\t%.3f\t\n",
			t, n, s.UniqueValuesByType[t], s.AverageConfidenceByType[t], s.EstimatedPrecision[t])
	}
	w.Flush()
	return buf.String()
}
