// Package watch turns filesystem activity under configured roots into
// context signals. Raw fsnotify events are filtered against noise
// directories and ignore globs, coalesced per project directory, and
// emitted as one signal per project. Directory creation extends the
// watch set; only file writes become signals.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/foldline/worklog-mcp/internal/autoswitch"
)

// DefaultDebounce is the filesystem-level coalescing window. Editors
// fire several events per save; one signal per project per window is
// enough. The switch engine applies its own debounce on top.
const DefaultDebounce = 50 * time.Millisecond

// SignalSink receives derived context signals.
type SignalSink interface {
	OnSignal(ctx context.Context, sig autoswitch.ContextSignal)
}

// Config tunes the watcher.
type Config struct {
	// Roots are the directories watched recursively.
	Roots []string

	// IgnoreGlobs are extra patterns matched against path base names,
	// for directories and files alike. Noise directories (.git,
	// node_modules, vendor, any dot-directory) are always ignored.
	IgnoreGlobs []string

	// Debounce is the coalescing window. Defaults to DefaultDebounce.
	Debounce time.Duration
}

// DefaultConfig returns the watcher defaults used by the binary.
func DefaultConfig() Config {
	return Config{
		Debounce:    DefaultDebounce,
		IgnoreGlobs: []string{"*.tmp", "*.swp", "*~", ".DS_Store"},
	}
}

// Watcher wraps fsnotify and feeds a signal sink.
type Watcher struct {
	cfg     Config
	watcher *fsnotify.Watcher
	sink    SignalSink
	logger  *slog.Logger

	mu    sync.RWMutex
	roots []string

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a watcher feeding the sink. Roots from the config are
// registered by Start.
func New(sink SignalSink, cfg Config, logger *slog.Logger) (*Watcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("watch: sink cannot be nil")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return &Watcher{
		cfg:     cfg,
		watcher: fsw,
		sink:    sink,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start registers the configured roots and spawns the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.cfg.Roots {
		if err := w.AddRoot(root); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// AddRoot registers a directory tree for watching. Safe to call while
// the loop is running.
func (w *Watcher) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("watch: resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch: root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch: root %s is not a directory", abs)
	}

	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.mu.Unlock()

	return w.watchRecursive(abs)
}

// watchRecursive adds the directory and every non-ignored
// subdirectory to the watcher. Unreadable entries are skipped.
func (w *Watcher) watchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && w.cfg.ignoredDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("watch add failed", "path", path, "error", err)
		}
		return nil
	})
}

// Close stops the event loop and releases the fsnotify watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	debounce := time.NewTimer(w.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := make(map[string]autoswitch.ContextSignal)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, pending, debounce)

		case <-debounce.C:
			for _, sig := range pending {
				w.sink.OnSignal(ctx, sig)
			}
			pending = make(map[string]autoswitch.ContextSignal)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, pending map[string]autoswitch.ContextSignal, debounce *time.Timer) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	root, ok := w.rootFor(event.Name)
	if !ok {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.cfg.ignoredDirPath(event.Name, root) {
				if err := w.watchRecursive(event.Name); err != nil {
					w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
				}
			}
			return
		}
	}

	if w.cfg.ignoredFilePath(event.Name, root) {
		return
	}

	project := projectRoot(event.Name, root)
	pending[project] = autoswitch.ContextSignal{
		Path:         project,
		ProjectName:  filepath.Base(project),
		RepositoryID: originURL(project),
	}
	debounce.Reset(w.cfg.Debounce)
}

func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, root := range w.roots {
		if within(path, root) {
			return root, true
		}
	}
	return "", false
}
