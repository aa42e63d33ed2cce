// Package main is the entry point for the polis-redact binary.
// It provides a CLI for redacting documents, serving the upload API and
// watching an inbox directory.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-redact/internal/governance"
	"github.com/polisai/polis-redact/pkg/audit"
	"github.com/polisai/polis-redact/pkg/config"
	"github.com/polisai/polis-redact/pkg/document"
	"github.com/polisai/polis-redact/pkg/logging"
	"github.com/polisai/polis-redact/pkg/processor"
	"github.com/polisai/polis-redact/pkg/server"
	"github.com/polisai/polis-redact/pkg/storage"
	"github.com/polisai/polis-redact/pkg/telemetry"
	"github.com/polisai/polis-redact/pkg/watch"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries the state shared by every subcommand after bootstrap.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-redact
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "polis-redact",
		Short: "Detect and redact India-specific PII in documents",
		Long: `polis-redact finds Aadhaar, PAN, card, phone, bank and other identifiers in
CSV, TSV, XLSX, JSON, text, PDF and HTML documents, masks or tokenizes them
and writes an audit trail of every detection.

Example:
  polis-redact process -i customers.csv -o customers_masked.csv -r reports -c 0.7`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.bootstrap(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.Background())
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newProcessCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newReportCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// bootstrap loads the environment file and configuration, then sets up
// logging and tracing.
func (a *app) bootstrap(ctx context.Context) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	a.logger = logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})
	slog.SetDefault(a.logger)

	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) processor() (*processor.Processor, error) {
	reg, err := a.cfg.Engine.Registry()
	if err != nil {
		return nil, err
	}
	return processor.New(reg, processor.WithLogger(a.logger)), nil
}

// auditSink opens the SQLite audit sink when one is configured.
func (a *app) auditSink() (*audit.SQLiteSink, error) {
	if a.cfg.Audit.SQLitePath == "" {
		return nil, nil
	}
	return audit.NewSQLiteSink(a.cfg.Audit.SQLitePath)
}

// processOptions holds the flags of the process command
type processOptions struct {
	input     string
	output    string
	reportDir string
	threshold float64
	format    string
}

func newProcessCmd(a *app) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Redact one document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("confidence") {
				opts.threshold = a.cfg.Engine.ConfidenceThreshold
			}
			return runProcess(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Input document")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output path (default <input>_processed.<ext>)")
	cmd.Flags().StringVarP(&opts.reportDir, "report-dir", "r", "", "Directory for detections.csv, summary.json and summary.txt")
	cmd.Flags().Float64VarP(&opts.threshold, "confidence", "c", config.DefaultThreshold, "Minimum confidence for a detection")
	cmd.Flags().StringVar(&opts.format, "format", "", "Input format override (csv, tsv, xlsx, json, txt, pdf, html)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runProcess(ctx context.Context, a *app, opts *processOptions, stdout io.Writer) error {
	format, err := document.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	//nolint:gosec // Input path is supplied by the operator
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if format == document.FormatUnknown {
		format, err = document.DetectFormat(filepath.Base(opts.input), data)
		if err != nil {
			return err
		}
	}

	output := opts.output
	if output == "" {
		output = defaultOutputPath(opts.input, format)
	}

	sinks := audit.MultiSink{}
	if opts.reportDir != "" {
		store, err := storage.NewFileStore(opts.reportDir)
		if err != nil {
			return err
		}
		sinks = append(sinks, audit.NewFlatStoreSink(store))
	}
	db, err := a.auditSink()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		sinks = append(sinks, db)
	}

	p, err := a.processor()
	if err != nil {
		return err
	}

	var out bytes.Buffer
	res, err := p.Process(ctx, processor.Request{
		Name:       filepath.Base(opts.input),
		Data:       data,
		Format:     format,
		Threshold:  opts.threshold,
		OutputName: filepath.Base(output),
	}, &out, sinks)
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprint(stdout, res.Summary.Text())
	fmt.Fprintf(stdout, "Masked output: %s\n", output)
	return nil
}

// defaultOutputPath places the masked document next to the input.
func defaultOutputPath(input string, f document.Format) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_processed" + f.Extension()
}

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload and download API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	store, err := storage.NewFileStore(a.cfg.Server.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	db, err := a.auditSink()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	p, err := a.processor()
	if err != nil {
		return err
	}

	threshold := func() float64 { return a.cfg.Engine.ConfidenceThreshold }
	if a.configPath != "" {
		provider, err := config.NewFileProvider(a.configPath, a.logger)
		if err != nil {
			return err
		}
		defer provider.Close()
		threshold = provider.Threshold
		provider.OnChange(func(prev, next *config.Config) {
			if !slices.Equal(prev.Engine.EnabledTypes, next.Engine.EnabledTypes) {
				a.logger.Warn("enabled_types changed; restart to apply", "enabled_types", next.Engine.EnabledTypes)
			}
		})
	}

	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{
		RequestsPerSecond: a.cfg.Server.UploadRate,
		BurstSize:         a.cfg.Server.UploadBurst,
	})

	srv, err := server.New(server.Options{
		Processor:      p,
		Store:          store,
		Audit:          db,
		Threshold:      threshold,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes(),
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		UploadLimiter:  limiter,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx, a.cfg.Server.Address, a.cfg.Server.CertFile, a.cfg.Server.KeyFile)
}

func newWatchCmd(a *app) *cobra.Command {
	var inbox, outbox string
	var existing bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Redact documents dropped into an inbox directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inbox != "" {
				a.cfg.Watch.Inbox = inbox
			}
			if outbox != "" {
				a.cfg.Watch.Outbox = outbox
			}
			if err := a.cfg.Watch.Validate(); err != nil {
				return err
			}

			db, err := a.auditSink()
			if err != nil {
				return err
			}
			var sink audit.Sink
			if db != nil {
				defer db.Close()
				sink = db
			}

			p, err := a.processor()
			if err != nil {
				return err
			}

			w, err := watch.New(watch.Options{
				Inbox:           a.cfg.Watch.Inbox,
				Outbox:          a.cfg.Watch.Outbox,
				Processor:       p,
				Threshold:       func() float64 { return a.cfg.Engine.ConfidenceThreshold },
				Debounce:        a.cfg.Watch.Debounce,
				Audit:           sink,
				ProcessExisting: existing,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&inbox, "inbox", "", "Directory to watch (overrides config)")
	cmd.Flags().StringVar(&outbox, "outbox", "", "Directory for masked documents and reports (overrides config)")
	cmd.Flags().BoolVar(&existing, "existing", false, "Also process files already in the inbox")
	return cmd
}

func newReportCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report <detections.csv|report-dir>",
		Short: "Summarize a detections table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(args[0], asJSON, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func runReport(path string, asJSON bool, stdout io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		path = filepath.Join(path, storage.DetectionsFile)
	}

	//nolint:gosec // Report path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	log, err := audit.ReadDetections(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	summary := audit.Summarize(log, audit.Meta{InputFile: path})
	if asJSON {
		data, err := audit.SummaryJSON(summary)
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}
	_, err = fmt.Fprint(stdout, summary.Text())
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "polis-redact", version)
		},
	}
}
