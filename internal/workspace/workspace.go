// Package workspace holds the shared state of one open project: its file
// tree, selection engine, assembly pipeline, memory guard, selection history
// and file watcher. A Workspace is passed explicitly to every surface (CLI,
// HTTP, MCP, TUI) instead of living in package globals.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/guard"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
	"github.com/fyrsmithlabs/ctxpack/internal/tokens"
	"github.com/fyrsmithlabs/ctxpack/internal/watcher"
)

// ErrClosed is returned by operations on a closed Workspace.
var ErrClosed = errors.New("workspace is closed")

// historyTimeout bounds a single history write made from a selection hook.
const historyTimeout = 5 * time.Second

// History persists selection and expansion state per project.
type History interface {
	SaveSelection(ctx context.Context, project string, paths []string) error
	LoadSelection(ctx context.Context, project string) ([]string, error)
	SaveExpanded(ctx context.Context, project string, paths []string) error
	LoadExpanded(ctx context.Context, project string) ([]string, error)
}

// Config groups the configuration of every component a Workspace wires.
type Config struct {
	Selection   selection.Config
	Assembly    assembly.Config
	Guard       guard.Config
	Watcher     watcher.Config
	LoadOptions filetree.LoadOptions
	// Watch refreshes the tree on filesystem changes after Start.
	Watch bool
}

// DefaultConfig returns the default configuration of every component.
func DefaultConfig() Config {
	return Config{
		Selection:   selection.DefaultConfig(),
		Assembly:    assembly.DefaultConfig(),
		Guard:       guard.DefaultConfig(),
		Watcher:     watcher.DefaultConfig(),
		LoadOptions: filetree.LoadOptions{UseGitignore: true, UseCustomIgnore: true},
	}
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithEmitter sets the signal emitter shared by every component.
func WithEmitter(e signals.Emitter) Option {
	return func(w *Workspace) {
		if e != nil {
			w.emitter = e
		}
	}
}

// WithHistory persists selection and expansion changes and restores them
// on open.
func WithHistory(h History) Option {
	return func(w *Workspace) { w.history = h }
}

// WithEstimator sets the token estimator used by validation.
func WithEstimator(e tokens.Estimator) Option {
	return func(w *Workspace) { w.estimator = e }
}

// WithMeter sets the OTEL meter of the pipeline.
func WithMeter(m metric.Meter) Option {
	return func(w *Workspace) { w.meter = m }
}

// WithHeapSampler enables the live headroom check in validation.
func WithHeapSampler(p assembly.HeapSampler) Option {
	return func(w *Workspace) { w.sampler = p }
}

// Workspace is one open project.
type Workspace struct {
	root      string
	cfg       Config
	provider  filetree.Provider
	logger    *zap.Logger
	log       *logging.Logger
	emitter   signals.Emitter
	history   History
	estimator tokens.Estimator
	meter     metric.Meter
	sampler   assembly.HeapSampler

	engine   *selection.Engine
	pipeline *assembly.Pipeline
	guard    *guard.Guard

	mu      sync.RWMutex
	watcher *watcher.Watcher
	closed  bool

	// refreshMu serializes tree reloads.
	refreshMu sync.Mutex
}

// Open loads the tree of root through provider and wires a selection engine,
// an assembly pipeline over b and a memory guard around it. Saved history
// is restored before Open returns.
func Open(ctx context.Context, root string, cfg Config, provider filetree.Provider, b backend.Backend, opts ...Option) (*Workspace, error) {
	if provider == nil {
		return nil, errors.New("tree provider is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	w := &Workspace{
		root:     abs,
		cfg:      cfg,
		provider: provider,
		logger:   zap.NewNop(),
		emitter:  signals.Nop{},
	}
	for _, opt := range opts {
		opt(w)
	}
	// The pipeline and the workspace itself log through contexts tagged
	// with the project; the rest get it as a static field.
	base := w.logger
	w.log = logging.FromZap(base)
	w.logger = base.With(zap.String("project.path", abs))
	ctx = w.tag(ctx)

	idx, err := w.load(ctx)
	if err != nil {
		return nil, err
	}

	w.engine, err = selection.NewEngine(idx, cfg.Selection,
		selection.WithLogger(w.logger.Named("selection")),
		selection.WithEmitter(w.emitter),
		selection.WithHooks(selection.Hooks{
			OnSelectionChanged: w.saveSelection,
			OnExpandedChanged:  w.saveExpanded,
		}),
	)
	if err != nil {
		return nil, err
	}

	popts := []assembly.Option{
		assembly.WithLogger(base.Named("assembly")),
		assembly.WithEmitter(w.emitter),
		assembly.WithSizeLookup(idx),
		assembly.WithEstimator(w.estimator),
		assembly.WithMeter(w.meter),
	}
	if w.sampler != nil {
		popts = append(popts, assembly.WithHeapSampler(w.sampler))
	}
	w.pipeline, err = assembly.New(b, cfg.Assembly, popts...)
	if err != nil {
		return nil, err
	}

	w.guard, err = guard.New(cfg.Guard, guard.Limits{
		MaxSelectedPaths: cfg.Selection.MaxSelectedPaths,
		MaxExpandedPaths: cfg.Selection.MaxExpandedPaths,
		ChunkCacheSize:   cfg.Assembly.ChunkCacheSize,
	}, w.engine, w.pipeline,
		guard.WithLogger(w.logger.Named("guard")),
		guard.WithEmitter(w.emitter),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid guard config: %w", err)
	}
	w.pipeline.SetGuard(w.guard)

	w.restore(ctx)
	return w, nil
}

func (w *Workspace) load(ctx context.Context) (*filetree.Index, error) {
	roots, err := w.provider.LoadFileTree(ctx, w.root, w.cfg.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("load file tree: %w", err)
	}
	idx, err := filetree.BuildIndex(roots)
	if err != nil {
		return nil, fmt.Errorf("index file tree: %w", err)
	}
	return idx, nil
}

func (w *Workspace) restore(ctx context.Context) {
	if w.history == nil {
		return
	}
	if paths, err := w.history.LoadExpanded(ctx, w.root); err != nil {
		w.log.Warn(ctx, "failed to load expanded history", zap.Error(err))
	} else if len(paths) > 0 {
		w.engine.RestoreExpandedPaths(paths)
	}
	if paths, err := w.history.LoadSelection(ctx, w.root); err != nil {
		w.log.Warn(ctx, "failed to load selection history", zap.Error(err))
	} else if len(paths) > 0 {
		res := w.engine.RestoreSelection(paths)
		w.log.Info(ctx, "selection restored",
			zap.Int("saved", len(paths)),
			zap.Int("restored", w.engine.SelectedCount()),
			zap.Int("affected", res.AffectedCount))
	}
}

func (w *Workspace) saveSelection(paths []string) {
	if w.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.tag(context.Background()), historyTimeout)
	defer cancel()
	if err := w.history.SaveSelection(ctx, w.root, paths); err != nil {
		w.log.Warn(ctx, "failed to save selection history", zap.Error(err))
	}
}

func (w *Workspace) saveExpanded(paths []string) {
	if w.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.tag(context.Background()), historyTimeout)
	defer cancel()
	if err := w.history.SaveExpanded(ctx, w.root, paths); err != nil {
		w.log.Warn(ctx, "failed to save expanded history", zap.Error(err))
	}
}

// tag records the project path in ctx for correlated logging.
func (w *Workspace) tag(ctx context.Context) context.Context {
	return logging.WithProject(ctx, w.root)
}

// Root returns the absolute project path.
func (w *Workspace) Root() string { return w.root }

// Engine returns the selection engine.
func (w *Workspace) Engine() *selection.Engine { return w.engine }

// Pipeline returns the assembly pipeline.
func (w *Workspace) Pipeline() *assembly.Pipeline { return w.pipeline }

// Guard returns the memory guard.
func (w *Workspace) Guard() *guard.Guard { return w.guard }

// Index returns the tree index the engine currently selects against.
func (w *Workspace) Index() *filetree.Index {
	return w.engine.Index()
}

// Start begins the guard loop and, when configured, the file watcher. Both
// stop when ctx ends or Close is called.
func (w *Workspace) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.guard.Start(ctx)
	if !w.cfg.Watch || w.watcher != nil {
		return nil
	}
	wt, err := watcher.New(w.root, w.cfg.Watcher, func(changed []string) {
		if _, err := w.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn(w.tag(ctx), "tree refresh failed", zap.Int("changed", len(changed)), zap.Error(err))
		}
	}, watcher.WithLogger(w.logger.Named("watcher")))
	if err != nil {
		return err
	}
	if err := wt.Start(ctx); err != nil {
		return err
	}
	w.watcher = wt
	return nil
}

// Refresh reloads the tree, swaps it into the engine and the pipeline, and
// returns the selected paths that no longer exist as selectable files.
func (w *Workspace) Refresh(ctx context.Context) ([]string, error) {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	ctx = w.tag(ctx)
	idx, err := w.load(ctx)
	if err != nil {
		return nil, err
	}
	dropped := w.engine.Reindex(idx)
	w.pipeline.SetSizeLookup(idx)
	w.log.Debug(ctx, "tree refreshed", zap.Int("files", idx.FileCount()), zap.Int("dropped", len(dropped)))
	return dropped, nil
}

// Build assembles the current selection.
func (w *Workspace) Build(ctx context.Context, opts backend.BuildOptions) (*backend.ContextSummary, error) {
	return w.pipeline.Build(ctx, w.root, w.engine.SelectedPaths(), opts)
}

// Validate checks the current selection without building.
func (w *Workspace) Validate(ctx context.Context) assembly.ValidationResult {
	return w.pipeline.Validate(ctx, w.engine.SelectedPaths())
}

// Close stops the watcher and the guard. Built contexts are kept in the
// backend; use Pipeline().Reset to release the current one.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	wt := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if wt != nil {
		wt.Stop()
	}
	w.guard.Stop()
	return nil
}
