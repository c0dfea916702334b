// Package watcher reports debounced filesystem changes under a project root
// so the tree can be rescanned and the selection re-validated.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is the quiet period before changes are reported.
const DefaultDebounce = 200 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	Debounce time.Duration `json:"debounce" koanf:"debounce"`
	// SkipDirs are directory names that are never watched.
	SkipDirs []string `json:"skip_dirs" koanf:"skip_dirs"`
}

// DefaultConfig returns a 200ms debounce that skips VCS and dependency dirs.
func DefaultConfig() Config {
	return Config{
		Debounce: DefaultDebounce,
		SkipDirs: []string{".git", ".svn", ".hg", "node_modules", ".venv", "__pycache__", ".idea", ".cache"},
	}
}

// Handler receives the changed paths of one debounce window, sorted.
type Handler func(changed []string)

// Watcher watches every directory under a root.
type Watcher struct {
	root     string
	debounce time.Duration
	skip     map[string]bool
	handler  Handler
	logger   *zap.Logger

	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Watcher for root. Call Start to begin watching.
func New(root string, cfg Config, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w := &Watcher{
		root:     filepath.Clean(root),
		debounce: cfg.Debounce,
		skip:     make(map[string]bool, len(cfg.SkipDirs)),
		handler:  handler,
		logger:   zap.NewNop(),
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]struct{}),
	}
	for _, d := range cfg.SkipDirs {
		w.skip[d] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start subscribes to every directory under the root and processes events
// in the background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		_ = w.fsw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("watching project", zap.String("root", w.root), zap.Int("dirs", len(w.fsw.WatchList())))
	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit. Pending changes
// are dropped. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.shutdown()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		// Start was never called.
	}
}

func (w *Watcher) shutdown() {
	w.once.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		close(w.stop)
		_ = w.fsw.Close()
	})
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skip[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Debug("cannot watch directory", zap.String("dir", p), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.skipped(ev.Name) {
		return
	}
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Debug("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
		}
	}
	w.schedule(ev.Name)
}

// skipped reports whether path lies in a skipped directory.
func (w *Watcher) skipped(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.skip[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(changed)
	w.logger.Debug("project files changed", zap.Int("paths", len(changed)))
	w.handler(changed)
}
