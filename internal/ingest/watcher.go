package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatcherConfig holds drop-directory watcher settings.
type WatcherConfig struct {
	// Dir is the directory to watch for dropped plain-text documents.
	Dir string

	// Debounce is how long a file must stay quiet after the last write
	// before it is ingested. Default: 500ms
	Debounce time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *WatcherConfig) ApplyDefaults() {
	if c.Debounce == 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Validate checks the configuration.
func (c *WatcherConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: watch directory is required", ErrInvalidConfig)
	}
	return nil
}

// Watcher observes a drop directory and ingests new or rewritten text
// files. Files are keyed by name, so re-dropping a file ingests a new
// version of the same document.
type Watcher struct {
	config   WatcherConfig
	pipeline *Pipeline
	logger   *zap.Logger

	fw     *fsnotify.Watcher
	mu     sync.Mutex
	closed bool
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewWatcher creates a drop-directory watcher.
func NewWatcher(config WatcherConfig, pipeline *Pipeline, logger *zap.Logger) (*Watcher, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, fmt.Errorf("%w: pipeline is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		config:   config,
		pipeline: pipeline,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start ingests files already present in the directory, then watches for
// new ones until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.config.Dir, 0o755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.config.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", w.config.Dir, err)
	}
	w.fw = fw

	if err := w.ingestExisting(ctx); err != nil {
		w.logger.Warn("initial directory scan", zap.Error(err))
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching drop directory", zap.String("dir", w.config.Dir))
	return nil
}

// Close stops the watcher, cancels pending debounce timers, and waits
// for the event loop and any in-flight ingest to finish.
func (w *Watcher) Close() error {
	if w.fw == nil {
		return nil
	}
	err := w.fw.Close()

	w.mu.Lock()
	w.closed = true
	for path, timer := range w.timers {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !eligibleFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return
		}
	}
}

// schedule defers ingestion until the file has stopped changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.config.Debounce)
		return
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.config.Debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		stopped := w.closed
		delete(w.timers, path)
		w.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return
		}
		w.ingestFile(ctx, path)
	})
}

func (w *Watcher) ingestExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.config.Dir, entry.Name())
		if eligibleFile(path) {
			w.ingestFile(ctx, path)
		}
	}
	return nil
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading dropped file", zap.String("path", path), zap.Error(err))
		return
	}

	name := filepath.Base(path)
	doc := Document{
		ID:          strings.TrimSuffix(name, filepath.Ext(name)),
		Source:      name,
		ContentType: "text/plain",
	}

	report, err := w.pipeline.Ingest(ctx, doc, string(data))
	if err != nil {
		w.logger.Error("ingesting dropped file",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	if report.NoOp {
		return
	}
	w.logger.Info("ingested dropped file",
		zap.String("path", path),
		zap.String("document_id", report.DocumentID),
		zap.Int("chunks", report.ChunksIndexed),
	)
}

func eligibleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}
