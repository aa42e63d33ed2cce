// Package watch processes documents dropped into an inbox directory and
// writes the masked output and audit reports into an outbox directory.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/polis-redact/pkg/audit"
	"github.com/polisai/polis-redact/pkg/dlp"
	"github.com/polisai/polis-redact/pkg/document"
	"github.com/polisai/polis-redact/pkg/processor"
	"github.com/polisai/polis-redact/pkg/storage"
)

// Options configures a Watcher.
type Options struct {
	Inbox     string
	Outbox    string
	Processor *processor.Processor
	// Threshold supplies the confidence threshold for each file.
	Threshold func() float64
	// Debounce is how long a file must stay quiet before it is processed.
	Debounce time.Duration
	// Audit receives every record in addition to the outbox reports.
	Audit audit.Sink
	// ProcessExisting processes files already in the inbox at start.
	ProcessExisting bool
	Logger          *slog.Logger
	// OnResult is called after every processing attempt.
	OnResult func(Event)
}

// Event reports the outcome of processing one inbox file.
type Event struct {
	Path   string
	Output string
	Result *processor.Result
	Err    error
}

// Watcher watches the inbox and processes files one at a time.
type Watcher struct {
	opts   Options
	outbox *storage.FileStore
	sink   audit.Sink
	logger *slog.Logger
	seen   map[string]time.Time
}

// New validates opts and prepares the outbox.
func New(opts Options) (*Watcher, error) {
	if opts.Inbox == "" || opts.Outbox == "" {
		return nil, errors.New("watch: inbox and outbox are required")
	}
	inbox, err := filepath.Abs(opts.Inbox)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve inbox: %w", err)
	}
	outboxDir, err := filepath.Abs(opts.Outbox)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve outbox: %w", err)
	}
	if inbox == outboxDir {
		return nil, errors.New("watch: inbox and outbox must differ")
	}
	opts.Inbox, opts.Outbox = inbox, outboxDir

	if opts.Processor == nil {
		opts.Processor = processor.New(nil)
	}
	if opts.Threshold == nil {
		opts.Threshold = func() float64 { return dlp.DefaultThreshold }
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	outbox, err := storage.NewFileStore(outboxDir)
	if err != nil {
		return nil, fmt.Errorf("watch: open outbox: %w", err)
	}

	sinks := audit.MultiSink{audit.NewStoreSink(outbox)}
	if opts.Audit != nil {
		sinks = append(sinks, opts.Audit)
	}

	return &Watcher{
		opts:   opts,
		outbox: outbox,
		sink:   sinks,
		logger: opts.Logger,
		seen:   make(map[string]time.Time),
	}, nil
}

// Run watches the inbox until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.opts.Inbox); err != nil {
		return fmt.Errorf("watch: watch inbox: %w", err)
	}
	w.logger.Info("Inbox watcher started", "inbox", w.opts.Inbox, "outbox", w.opts.Outbox)

	ready := make(chan string, 16)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	schedule := func(path string) {
		if t, ok := timers[path]; ok {
			t.Reset(w.opts.Debounce)
			return
		}
		timers[path] = time.AfterFunc(w.opts.Debounce, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	if w.opts.ProcessExisting {
		entries, err := os.ReadDir(w.opts.Inbox)
		if err != nil {
			return fmt.Errorf("watch: read inbox: %w", err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !ignored(e.Name()) {
				schedule(filepath.Join(w.opts.Inbox, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ignored(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				schedule(filepath.Clean(event.Name))
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Inbox watcher error", "error", err)
		case path := <-ready:
			delete(timers, path)
			w.handle(ctx, path)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if mod, ok := w.seen[path]; ok && mod.Equal(info.ModTime()) {
		return
	}
	w.seen[path] = info.ModTime()

	ev := w.ProcessFile(ctx, path)
	if ev.Err != nil {
		w.logger.Warn("Inbox file skipped", "file", filepath.Base(path), "error", ev.Err)
	}
	if w.opts.OnResult != nil {
		w.opts.OnResult(ev)
	}
}

// ProcessFile processes one file into the outbox. The masked document is
// named <stem>_processed<ext> and the reports go under reports/<run id>/.
func (w *Watcher) ProcessFile(ctx context.Context, path string) Event {
	ev := Event{Path: path}
	name := filepath.Base(path)

	//nolint:gosec // Paths come from the operator-controlled inbox
	data, err := os.ReadFile(path)
	if err != nil {
		ev.Err = fmt.Errorf("read %s: %w", name, err)
		return ev
	}

	format, err := document.DetectFormat(name, data)
	if err != nil {
		ev.Err = err
		return ev
	}
	output := strings.TrimSuffix(name, filepath.Ext(name)) + "_processed" + format.Extension()

	var out bytes.Buffer
	res, err := w.opts.Processor.Process(ctx, processor.Request{
		Name:       name,
		Data:       data,
		Format:     format,
		Threshold:  w.opts.Threshold(),
		OutputName: output,
	}, &out, w.sink)
	if err != nil {
		ev.Err = err
		return ev
	}
	ev.Result = res

	if err := w.outbox.Put(ctx, output, out.Bytes()); err != nil {
		ev.Err = fmt.Errorf("write %s: %w", output, err)
		return ev
	}
	ev.Output, _ = w.outbox.Path(output)
	return ev
}

// ignored reports names that editors and uploaders use for partial files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasPrefix(name, "~$") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".crdownload")
}
