package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/polisai/polis-redact/pkg/dlp"
)

// DetectionsHeader is the column layout of the detections table. Reporting
// tools depend on it.
var DetectionsHeader = []string{
	"row_index", "column_name", "pii_type", "raw_value",
	"masked_value", "start", "end", "confidence", "context",
}

// WriteDetections writes log as a CSV table with DetectionsHeader.
// Confidence is written with three decimals.
func WriteDetections(w io.Writer, log dlp.DetectionLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetectionsHeader); err != nil {
		return err
	}
	for _, d := range log {
		record := []string{
			strconv.Itoa(d.RowIndex),
			d.Column,
			string(d.Type),
			d.Value,
			d.Masked,
			strconv.Itoa(d.Start),
			strconv.Itoa(d.End),
			strconv.FormatFloat(d.Confidence, 'f', 3, 64),
			d.Context,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DetectionsCSV renders log with WriteDetections.
func DetectionsCSV(log dlp.DetectionLog) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteDetections(&buf, log); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadDetections parses a table written by WriteDetections.
func ReadDetections(r io.Reader) (dlp.DetectionLog, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("audit: detections table has no header")
	}
	if len(records[0]) != len(DetectionsHeader) {
		return nil, fmt.Errorf("audit: detections header has %d columns, want %d", len(records[0]), len(DetectionsHeader))
	}

	log := make(dlp.DetectionLog, 0, len(records)-1)
	for i, rec := range records[1:] {
		d, err := parseDetection(rec)
		if err != nil {
			return nil, fmt.Errorf("audit: detections row %d: %w", i+1, err)
		}
		log = append(log, d)
	}
	return log, nil
}

func parseDetection(rec []string) (dlp.Detection, error) {
	row, err := strconv.Atoi(rec[0])
	if err != nil {
		return dlp.Detection{}, err
	}
	kind, err := dlp.ParsePIIType(rec[2])
	if err != nil {
		return dlp.Detection{}, err
	}
	start, err := strconv.Atoi(rec[5])
	if err != nil {
		return dlp.Detection{}, err
	}
	end, err := strconv.Atoi(rec[6])
	if err != nil {
		return dlp.Detection{}, err
	}
	conf, err := strconv.ParseFloat(rec[7], 64)
	if err != nil {
		return dlp.Detection{}, err
	}
	return dlp.Detection{
		RowIndex:   row,
		Column:     rec[1],
		Type:       kind,
		Value:      rec[3],
		Masked:     rec[4],
		Start:      start,
		End:        end,
		Confidence: conf,
		Context:    rec[8],
	}, nil
}
