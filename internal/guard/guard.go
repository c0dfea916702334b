// Package guard periodically enforces the selection, expansion and chunk
// cache ceilings, and runs the same sweep around every build so the old and
// new context overlap in memory as little as possible.
package guard

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
)

// Sweep triggers, used as metric labels.
const (
	TriggerInterval    = "interval"
	TriggerBeforeBuild = "before_build"
	TriggerAfterBuild  = "after_build"
	TriggerManual      = "manual"
)

// SetTrimmer is satisfied by *selection.Engine.
type SetTrimmer interface {
	Trim(maxSelected, maxExpanded int) (selected, expanded []string)
}

// CacheTrimmer is satisfied by *assembly.Pipeline.
type CacheTrimmer interface {
	TrimChunkCache(n int) int
}

// Config configures the guard loop.
type Config struct {
	Interval time.Duration `json:"interval" koanf:"interval"`
	GCHint   bool          `json:"gc_hint" koanf:"gc_hint"`
}

// DefaultConfig returns a 30s sweep with the GC hint enabled.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, GCHint: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// Limits are the ceilings a sweep enforces.
type Limits struct {
	MaxSelectedPaths int
	MaxExpandedPaths int
	ChunkCacheSize   int
}

// Report describes what a sweep evicted.
type Report struct {
	Selected      []string
	Expanded      []string
	ChunksEvicted int
	HeapBytes     uint64
	GCRequested   bool
}

// Evicted returns the total number of evicted entries.
func (r Report) Evicted() int {
	return len(r.Selected) + len(r.Expanded) + r.ChunksEvicted
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithEmitter sets where CapacityExceeded signals go.
func WithEmitter(e signals.Emitter) Option {
	return func(g *Guard) {
		if e != nil {
			g.emitter = e
		}
	}
}

// WithHeapSampler sets the heap source for the heap gauge.
func WithHeapSampler(p assembly.HeapSampler) Option {
	return func(g *Guard) { g.sampler = p }
}

// WithFreeOSMemory replaces debug.FreeOSMemory.
func WithFreeOSMemory(fn func()) Option {
	return func(g *Guard) {
		if fn != nil {
			g.freeOSMemory = fn
		}
	}
}

// Guard enforces ceilings on a selection engine and an assembly pipeline.
type Guard struct {
	cfg          Config
	limits       Limits
	logger       *zap.Logger
	emitter      signals.Emitter
	sampler      assembly.HeapSampler
	freeOSMemory func()

	// sweepMu serializes sweeps.
	sweepMu sync.Mutex

	mu      sync.Mutex
	sets    SetTrimmer
	cache   CacheTrimmer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Guard. sets and cache may be nil and attached later with
// Attach.
func New(cfg Config, limits Limits, sets SetTrimmer, cache CacheTrimmer, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Guard{
		cfg:          cfg,
		limits:       limits,
		logger:       zap.NewNop(),
		emitter:      signals.Nop{},
		sampler:      assembly.RuntimeHeap{},
		freeOSMemory: debug.FreeOSMemory,
		sets:         sets,
		cache:        cache,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Attach replaces the trimmed targets, e.g. after a project switch.
func (g *Guard) Attach(sets SetTrimmer, cache CacheTrimmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sets = sets
	g.cache = cache
}

func (g *Guard) targets() (SetTrimmer, CacheTrimmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sets, g.cache
}

// BeforeBuild implements assembly.BuildGuard.
func (g *Guard) BeforeBuild(ctx context.Context) {
	g.sweep(ctx, TriggerBeforeBuild)
}

// AfterBuild implements assembly.BuildGuard.
func (g *Guard) AfterBuild(ctx context.Context) {
	g.sweep(ctx, TriggerAfterBuild)
}

// Sweep enforces the ceilings once.
func (g *Guard) Sweep(ctx context.Context) Report {
	return g.sweep(ctx, TriggerManual)
}

func (g *Guard) sweep(_ context.Context, trigger string) Report {
	g.sweepMu.Lock()
	defer g.sweepMu.Unlock()

	var rep Report
	sets, cache := g.targets()

	if sets != nil {
		rep.Selected, rep.Expanded = sets.Trim(ceiling(g.limits.MaxSelectedPaths), ceiling(g.limits.MaxExpandedPaths))
		g.evicted(SetSelected, g.limits.MaxSelectedPaths, rep.Selected, len(rep.Selected))
		g.evicted(SetExpanded, g.limits.MaxExpandedPaths, rep.Expanded, len(rep.Expanded))
	}
	if cache != nil && g.limits.ChunkCacheSize > 0 {
		rep.ChunksEvicted = cache.TrimChunkCache(g.limits.ChunkCacheSize)
		g.evicted(SetChunkCache, g.limits.ChunkCacheSize, nil, rep.ChunksEvicted)
	}

	if g.sampler != nil {
		if heap, err := g.sampler.HeapBytes(); err == nil {
			rep.HeapBytes = heap
			HeapBytes.Set(float64(heap))
		}
	}
	if g.cfg.GCHint && rep.Evicted() > 0 {
		g.freeOSMemory()
		rep.GCRequested = true
	}

	SweepsTotal.WithLabelValues(trigger).Inc()
	g.logger.Debug("memory guard sweep",
		zap.String("trigger", trigger),
		zap.Int("evicted", rep.Evicted()),
		zap.Uint64("heap_bytes", rep.HeapBytes))
	return rep
}

// ceiling maps an unset limit to -1, which Trim treats as unbounded.
func ceiling(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func (g *Guard) evicted(set string, limit int, keys []string, n int) {
	if n == 0 {
		return
	}
	EvictionsTotal.WithLabelValues(set).Add(float64(n))
	g.logger.Warn("memory guard evicted entries",
		zap.String("set", set),
		zap.Int("ceiling", limit),
		zap.Int("evicted", n))
	g.emitter.Emit(signals.CapacityExceeded{Set: set, Ceiling: limit, Evicted: keys})
}

// Start runs Sweep every Interval until ctx is cancelled or Stop is called.
func (g *Guard) Start(ctx context.Context) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	stop, done := g.stopCh, g.doneCh
	g.mu.Unlock()

	g.logger.Info("starting memory guard", zap.Duration("interval", g.cfg.Interval))
	go g.run(ctx, stop, done)
}

// Stop halts the loop and waits for it to exit. It is safe to call more than
// once.
func (g *Guard) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	stop, done := g.stopCh, g.doneCh
	g.mu.Unlock()

	close(stop)
	<-done
}

// IsRunning reports whether the loop is active.
func (g *Guard) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *Guard) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("memory guard stopped: context canceled")
			return
		case <-stop:
			g.logger.Debug("memory guard stopped")
			return
		case <-ticker.C:
			g.sweep(ctx, TriggerInterval)
		}
	}
}

var _ assembly.BuildGuard = (*Guard)(nil)
