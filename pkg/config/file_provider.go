package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// FileProvider serves the configuration loaded from a local file and reloads
// it when the file changes. A reload that fails Load keeps the previous
// configuration.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped sync.WaitGroup

	mu        sync.Mutex
	listeners []func(prev, next *Config)
}

// NewFileProvider loads path and starts watching its directory. Editors
// replace files by rename, so the directory is watched rather than the file.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	p.current.Store(cfg)

	p.stopped.Add(1)
	go p.loop()

	return p, nil
}

// Current returns the active configuration. Callers must not mutate it.
func (p *FileProvider) Current() *Config {
	return p.current.Load()
}

// Threshold returns the active engine confidence threshold.
func (p *FileProvider) Threshold() float64 {
	return p.Current().Engine.ConfidenceThreshold
}

// OnChange registers fn to run after every successful reload.
func (p *FileProvider) OnChange(fn func(prev, next *Config)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Close stops watching. It is safe to call once.
func (p *FileProvider) Close() error {
	close(p.done)
	err := p.watcher.Close()
	p.stopped.Wait()
	return err
}

func (p *FileProvider) loop() {
	defer p.stopped.Done()

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case <-timer.C:
			p.reload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (p *FileProvider) reload() {
	next, err := Load(p.path)
	if err != nil {
		p.logger.Warn("config reload failed, keeping previous configuration", "path", p.path, "error", err)
		return
	}
	prev := p.current.Swap(next)
	p.logger.Info("configuration reloaded", "path", p.path, "confidence_threshold", next.Engine.ConfidenceThreshold)

	p.mu.Lock()
	listeners := append([]func(prev, next *Config){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
}
