// Package server exposes the redaction processor over HTTP: documents are
// uploaded, processed synchronously and their artifacts kept in an artifact
// store for download.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-redact/internal/governance"
	"github.com/polisai/polis-redact/pkg/audit"
	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/document"
	"github.com/polisai/polis-redact/pkg/domain"
	"github.com/polisai/polis-redact/pkg/processor"
	"github.com/polisai/polis-redact/pkg/storage"
	"github.com/polisai/polis-redact/pkg/telemetry"
)

const (
	defaultMaxUpload = 32 << 20
	multipartMemory  = 8 << 20
	defaultRunsLimit = 50
)

// Options configures a Server.
type Options struct {
	Processor *processor.Processor
	Store     storage.ArtifactStore
	// Audit enables the /runs endpoints and receives every upload's record.
	Audit *audit.SQLiteSink
	// Threshold supplies the default confidence threshold per request.
	Threshold      func() float64
	MaxUploadBytes int64
	CORSOrigins    []string
	// UploadLimiter throttles POST /upload per client. Nil disables it.
	UploadLimiter *governance.RateLimiter
	Metrics       *Metrics
	Logger        *slog.Logger
}

// Server handles uploads and downloads.
type Server struct {
	processor *processor.Processor
	store     storage.ArtifactStore
	audit     *audit.SQLiteSink
	sink      audit.Sink
	threshold func() float64
	maxUpload int64
	origins   []string
	limiter   *governance.RateLimiter
	metrics   *Metrics
	logger    *slog.Logger
}

// New validates opts and builds a server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: artifact store is required")
	}
	if opts.Processor == nil {
		opts.Processor = processor.New(nil)
	}
	if opts.Threshold == nil {
		opts.Threshold = func() float64 { return dlp.DefaultThreshold }
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sinks := audit.MultiSink{audit.NewStoreSink(opts.Store)}
	if opts.Audit != nil {
		sinks = append(sinks, opts.Audit)
	}

	return &Server{
		processor: opts.Processor,
		store:     opts.Store,
		audit:     opts.Audit,
		sink:      sinks,
		threshold: opts.Threshold,
		maxUpload: opts.MaxUploadBytes,
		origins:   opts.CORSOrigins,
		limiter:   opts.UploadLimiter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/upload", s.limiter.Middleware(http.HandlerFunc(s.handleUpload))).Methods(http.MethodPost)
	r.HandleFunc("/download/{filetype}", s.handleDownload).Methods(http.MethodGet)
	if s.audit != nil {
		r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
		r.HandleFunc("/runs/stats", s.handleRunStats).Methods(http.MethodGet)
		r.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	}

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
	})

	return otelhttp.NewHandler(c.Handler(r), "polis.redact")
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.logger.Info("Server listening", "addr", listener.Addr().String(), "tls", certFile != "")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = server.ServeTLS(listener, certFile, keyFile)
		} else {
			err = server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// UploadResponse is the body returned for a processed upload.
type UploadResponse struct {
	ID         string           `json:"id"`
	Summary    audit.Summary    `json:"summary"`
	Detections dlp.DetectionLog `json:"detections"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordUpload("unknown", "too_large", 0)
			writeErr(w, r, err)
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeMissingFile, "expected a multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeMissingFile, "No file uploaded")
		return
	}
	defer file.Close()

	threshold := s.threshold()
	if raw := r.FormValue("confidence_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			err = dlp.ValidateThreshold(v)
		}
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidThreshold, fmt.Sprintf("confidence_threshold %q must be a number within [0,1]", raw))
			return
		}
		threshold = v
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, r, domain.IOFailure("read upload", header.Filename, err))
		return
	}

	ctx := r.Context()
	name := path.Base(header.Filename)
	format, err := document.DetectFormat(name, data)
	if err != nil {
		s.metrics.RecordUpload("unknown", string(telemetry.OutcomeOf(err)), len(data))
		writeErr(w, r, err)
		return
	}

	id := uuid.NewString()
	processedKey := storage.ProcessedKey(id, format.Extension())
	if err := s.store.Put(ctx, storage.UploadKey(id, name), data); err != nil {
		writeErr(w, r, domain.IOFailure("store upload", name, err))
		return
	}

	var out bytes.Buffer
	res, err := s.processor.Process(ctx, processor.Request{
		ID:         id,
		Name:       name,
		Data:       data,
		Format:     format,
		Threshold:  threshold,
		OutputName: path.Base(processedKey),
	}, &out, s.sink)
	s.metrics.RecordUpload(format.String(), string(telemetry.OutcomeOf(err)), len(data))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if err := s.store.Put(ctx, processedKey, out.Bytes()); err != nil {
		writeErr(w, r, domain.IOFailure("store output", name, err))
		return
	}

	counts := make(map[string]int, len(res.Summary.CountsByType))
	for t, n := range res.Summary.CountsByType {
		counts[string(t)] = n
	}
	s.metrics.RecordDetections(counts)

	detections := res.Detections
	if detections == nil {
		detections = dlp.DetectionLog{}
	}
	writeJSON(w, http.StatusOK, UploadResponse{ID: res.ID, Summary: res.Summary, Detections: detections})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	filetype := mux.Vars(r)["filetype"]
	id := r.URL.Query().Get("id")
	if id == "" {
		s.metrics.RecordDownload(filetype, http.StatusBadRequest)
		writeError(w, r, http.StatusBadRequest, CodeMissingID, "Missing file ID")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		s.metrics.RecordDownload(filetype, http.StatusBadRequest)
		writeError(w, r, http.StatusBadRequest, CodeMissingID, "Invalid file ID")
		return
	}

	ctx := r.Context()
	var key, contentType string
	switch filetype {
	case "deidentified":
		keys, err := s.store.List(ctx, storage.ProcessedKey(id, ""))
		if err != nil {
			s.metrics.RecordDownload(filetype, http.StatusInternalServerError)
			writeErr(w, r, domain.IOFailure("list artifacts", id, err))
			return
		}
		if len(keys) == 0 {
			s.metrics.RecordDownload(filetype, http.StatusNotFound)
			writeError(w, r, http.StatusNotFound, CodeNotFound, "File not found")
			return
		}
		key = keys[0]
		f, _ := document.ParseFormat(path.Ext(key))
		contentType = f.ContentType()
	case "detections":
		key, contentType = storage.ReportKey(id, storage.DetectionsFile), "text/csv; charset=utf-8"
	case "summary":
		key, contentType = storage.ReportKey(id, storage.SummaryJSONFile), "application/json"
	default:
		s.metrics.RecordDownload(filetype, http.StatusBadRequest)
		writeError(w, r, http.StatusBadRequest, CodeInvalidFiletype, fmt.Sprintf("Invalid filetype: %s", filetype))
		return
	}

	data, err := s.store.Get(ctx, key)
	if err != nil {
		status, _ := statusOf(err)
		s.metrics.RecordDownload(filetype, status)
		writeErr(w, r, err)
		return
	}

	s.metrics.RecordDownload(filetype, http.StatusOK)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, CodeMalformedInput, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.audit.Runs(r.Context(), limit)
	if err != nil {
		writeErr(w, r, domain.IOFailure("list runs", "", err))
		return
	}
	if runs == nil {
		runs = []audit.RunInfo{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.audit.Summary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = domain.IOFailure("load run", "", err)
		}
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		writeErr(w, r, domain.IOFailure("run stats", "", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
