package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-redact/internal/governance"
	"github.com/polisai/polis-redact/pkg/audit"
	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/domain"
	"github.com/polisai/polis-redact/pkg/storage"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, storage.ArtifactStore) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	srv, err := New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, opts.Store
}

func upload(t *testing.T, url, name, content string, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) domain.ErrorResponse {
	t.Helper()
	var e domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestUploadAndDownload(t *testing.T) {
	ts, store := newTestServer(t, Options{Threshold: func() float64 { return 0.9 }})

	resp := upload(t, ts.URL, "people.csv", "name,id\nAsha,234123412346\n", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ID         string           `json:"id"`
		Summary    map[string]any   `json:"summary"`
		Detections []map[string]any `json:"detections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_, err := uuid.Parse(body.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, body.Summary["total_detections"])
	assert.Equal(t, body.ID+"_processed.csv", body.Summary["output_file"])
	require.Len(t, body.Detections, 1)
	assert.Equal(t, "aadhaar", body.Detections[0]["pii_type"])
	assert.Equal(t, "2341XXXX2346", body.Detections[0]["masked_value"])

	original, err := store.Get(context.Background(), storage.UploadKey(body.ID, "people.csv"))
	require.NoError(t, err)
	assert.Equal(t, "name,id\nAsha,234123412346\n", string(original))

	get := func(filetype string) *http.Response {
		r, err := http.Get(ts.URL + "/download/" + filetype + "?id=" + body.ID)
		require.NoError(t, err)
		t.Cleanup(func() { r.Body.Close() })
		return r
	}

	masked := get("deidentified")
	require.Equal(t, http.StatusOK, masked.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", masked.Header.Get("Content-Type"))
	assert.Contains(t, masked.Header.Get("Content-Disposition"), body.ID+"_processed.csv")
	data, _ := io.ReadAll(masked.Body)
	assert.Equal(t, "name,id\nAsha,2341XXXX2346\n", string(data))

	detections := get("detections")
	require.Equal(t, http.StatusOK, detections.StatusCode)
	log, err := audit.ReadDetections(detections.Body)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "234123412346", log[0].Value)

	summary := get("summary")
	require.Equal(t, http.StatusOK, summary.StatusCode)
	assert.Equal(t, "application/json", summary.Header.Get("Content-Type"))

	bad := get("visual_report")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, CodeInvalidFiletype, decodeError(t, bad).Code)
}

func TestUpload_ThresholdField(t *testing.T) {
	ts, _ := newTestServer(t, Options{Threshold: func() float64 { return 0.9 }})

	resp := upload(t, ts.URL, "note.txt", "acc no 123456789", map[string]string{"confidence_threshold": "0.5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0.5, body.Summary.Threshold)
	require.Len(t, body.Detections, 1)
	assert.Equal(t, "bank_account", string(body.Detections[0].Type))
	assert.Equal(t, "text", body.Detections[0].Column)
}

func TestUpload_Errors(t *testing.T) {
	ts, _ := newTestServer(t, Options{MaxUploadBytes: 2048})

	tests := []struct {
		name   string
		file   string
		body   string
		fields map[string]string
		status int
		code   string
	}{
		{name: "missing file", status: http.StatusBadRequest, code: CodeMissingFile, fields: map[string]string{"x": "y"}},
		{name: "bad threshold", file: "a.csv", body: "a\n1\n", fields: map[string]string{"confidence_threshold": "2"}, status: http.StatusBadRequest, code: CodeInvalidThreshold},
		{name: "legacy workbook", file: "a.xls", body: "data", status: http.StatusUnsupportedMediaType, code: CodeUnsupportedFormat},
		{name: "malformed records", file: "a.json", body: `{"not":"an array"}`, status: http.StatusBadRequest, code: CodeMalformedInput},
		{name: "too large", file: "a.txt", body: strings.Repeat("x", 4096), status: http.StatusRequestEntityTooLarge, code: CodeTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, ts.URL, tt.file, tt.body, tt.fields)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestDownload_Errors(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	for _, tc := range []struct {
		query  string
		status int
	}{
		{"", http.StatusBadRequest},
		{"?id=../etc", http.StatusBadRequest},
		{"?id=" + uuid.NewString(), http.StatusNotFound},
	} {
		resp, err := http.Get(ts.URL + "/download/detections" + tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.query)
		resp.Body.Close()
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	upload(t, ts.URL, "a.txt", "write to a@b.in", nil)

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	text, _ := io.ReadAll(metrics.Body)
	assert.Contains(t, string(text), `redact_uploads_total{format="txt",outcome="success"} 1`)
	assert.Contains(t, string(text), `redact_detections_total{pii_type="email"} 1`)
	assert.Contains(t, string(text), `endpoint="/health"`)
}

func TestUpload_DefaultThreshold(t *testing.T) {
	ts, store := newTestServer(t, Options{})

	resp := upload(t, ts.URL, "note.txt", "Call 9876543210 now", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, 0.7, body.Summary.Threshold)
	require.Len(t, body.Detections, 1)
	assert.Equal(t, dlp.PIITypePhone, body.Detections[0].Type)

	masked, err := store.Get(context.Background(), storage.ProcessedKey(body.ID, ".txt"))
	require.NoError(t, err)
	assert.Equal(t, "Call XXXXXX3210 now", string(masked))
}

func TestRuns(t *testing.T) {
	sink, err := audit.NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	ts, _ := newTestServer(t, Options{Audit: sink})

	resp := upload(t, ts.URL, "a.txt", "call 9876543210", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	runs, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer runs.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(runs.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, body.ID, list[0]["id"])
	assert.Equal(t, "a.txt", list[0]["input_file"])
	assert.Equal(t, body.ID+"_processed.txt", list[0]["output_file"])
	assert.Equal(t, "txt", list[0]["format"])
	assert.Equal(t, 0.7, list[0]["threshold"])
	assert.EqualValues(t, 1, list[0]["total_detections"])
	assert.NotEmpty(t, list[0]["timestamp"])

	stats, err := http.Get(ts.URL + "/runs/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	require.Equal(t, http.StatusOK, stats.StatusCode)
	var totals audit.RunStats
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&totals))
	assert.Equal(t, 1, totals.Runs)
	assert.Equal(t, map[string]int{"phone": 1}, totals.CountsByType)

	one, err := http.Get(ts.URL + "/runs/" + body.ID)
	require.NoError(t, err)
	defer one.Body.Close()
	assert.Equal(t, http.StatusOK, one.StatusCode)

	missing, err := http.Get(ts.URL + "/runs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRunsDisabledWithoutAudit(t *testing.T) {
	ts, _ := newTestServer(t, Options{})
	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestUpload_RateLimited(t *testing.T) {
	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	ts, _ := newTestServer(t, Options{UploadLimiter: limiter})

	first := upload(t, ts.URL, "a.txt", "hello", nil)
	defer first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := upload(t, ts.URL, "a.txt", "hello", nil)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestDownload_FiletypeLabelBounded(t *testing.T) {
	metrics := NewMetrics()
	ts, _ := newTestServer(t, Options{Metrics: metrics})

	for i := 0; i < 20; i++ {
		resp, err := http.Get(fmt.Sprintf("%s/download/junk%d?id=x", ts.URL, i))
		require.NoError(t, err)
		resp.Body.Close()
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	series := 0
	for _, mf := range families {
		if mf.GetName() != "redact_downloads_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			series++
			for _, l := range m.GetLabel() {
				if l.GetName() == "filetype" {
					assert.Equal(t, "invalid", l.GetValue())
				}
			}
		}
	}
	assert.Equal(t, 1, series)
}
