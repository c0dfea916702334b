// Package assembly turns a selection snapshot into a built context through a
// backend and serves its content a page at a time.
//
// Only the backend-returned summary is kept. A build runs streaming first,
// falls back to a batch build, and on a structural backend fault makes one
// minimized single-file attempt to tell a bad selection from a bad backend.
// Every build carries a generation number; results from a build that timed
// out or was superseded are discarded and their contexts deleted.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
	"github.com/fyrsmithlabs/ctxpack/internal/tokens"
)

// BuildGuard is invoked synchronously around every build.
type BuildGuard interface {
	BeforeBuild(ctx context.Context)
	AfterBuild(ctx context.Context)
}

// Metrics are derived once from the summary of a successful build.
type Metrics struct {
	TokenCount      int           `json:"tokenCount"`
	EstimatedCost   float64       `json:"estimatedCost"`
	BuildDuration   time.Duration `json:"buildDuration"`
	AverageFileSize int64         `json:"averageFileSize"`
	FileCount       int           `json:"fileCount"`
	LineCount       int           `json:"lineCount"`
	Streamed        bool          `json:"streamed"`
}

type chunkKey struct {
	start int
	count int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithEmitter sets the signal emitter.
func WithEmitter(e signals.Emitter) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithEstimator sets the token estimator used by Validate.
func WithEstimator(e tokens.Estimator) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.tokens = e
		}
	}
}

// WithHeapSampler enables the live headroom check.
func WithHeapSampler(m HeapSampler) Option {
	return func(p *Pipeline) { p.sampler = m }
}

// WithSizeLookup sets where Validate finds file sizes. Defaults to StatSizes.
func WithSizeLookup(l SizeLookup) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.sizes = l
		}
	}
}

// WithGuard sets the hooks run around each build.
func WithGuard(g BuildGuard) Option {
	return func(p *Pipeline) { p.guard = g }
}

// WithMeter sets the OTEL meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) { p.meter = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline is the context assembly state machine.
type Pipeline struct {
	backend backend.Backend
	cfg     Config
	tokens  tokens.Estimator
	sampler HeapSampler
	emitter signals.Emitter
	logger  *zap.Logger
	log     *logging.Logger
	meter   metric.Meter
	inst    *instruments
	now     func() time.Time

	// generation is bumped by every build, timeout and reset. A build only
	// commits while the generation it started with is current.
	generation atomic.Uint64

	mu       sync.Mutex
	sizes    SizeLookup
	guard    BuildGuard
	status   Status
	building bool
	current  *backend.ContextSummary
	metrics  Metrics
	lastErr  error
	chunks   *simplelru.LRU[chunkKey, *backend.ContextChunk]
}

// New creates a Pipeline over b.
func New(b backend.Backend, cfg Config, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assembly config: %w", err)
	}
	p := &Pipeline{
		backend: b,
		cfg:     cfg,
		tokens:  tokens.NewHeuristic(0),
		emitter: signals.Nop{},
		logger:  zap.NewNop(),
		now:     time.Now,
		sizes:   StatSizes{},
		status:  StatusIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.FromZap(p.logger)
	p.inst = newInstruments(p.meter, p.logger)
	p.chunks = p.newChunkCache()
	return p, nil
}

func (p *Pipeline) newChunkCache() *simplelru.LRU[chunkKey, *backend.ContextChunk] {
	c, err := simplelru.NewLRU[chunkKey, *backend.ContextChunk](p.cfg.ChunkCacheSize, nil)
	if err != nil {
		// Config.Validate guarantees a positive size.
		panic(err)
	}
	return c
}

// SetSizeLookup swaps the size source, e.g. after a tree refresh.
func (p *Pipeline) SetSizeLookup(l SizeLookup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l == nil {
		l = StatSizes{}
	}
	p.sizes = l
}

// SetGuard sets the hooks run around each build.
func (p *Pipeline) SetGuard(g BuildGuard) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guard = g
}

func (p *Pipeline) sizeLookup() SizeLookup {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sizes
}

func (p *Pipeline) buildGuard() BuildGuard {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guard
}

// transitionLocked moves to target and queues a StatusChanged signal.
// Invalid transitions are logged and ignored.
func (p *Pipeline) transitionLocked(target Status, msg string, out *[]signals.Signal) {
	from := p.status
	if from == target {
		return
	}
	if !from.CanTransitionTo(target) {
		p.logger.Warn("ignoring invalid pipeline transition",
			zap.String("from", string(from)), zap.String("to", string(target)), zap.Error(ErrInvalidTransition))
		return
	}
	p.status = target
	var id string
	if p.current != nil {
		id = p.current.ID
	}
	*out = append(*out, signals.StatusChanged{From: string(from), To: string(target), ContextID: id, Message: msg})
}

func (p *Pipeline) emit(events []signals.Signal) {
	for _, e := range events {
		p.emitter.Emit(e)
	}
}

// transition is transitionLocked plus lock handling and emission.
func (p *Pipeline) transition(gen uint64, target Status, msg string) bool {
	var events []signals.Signal
	p.mu.Lock()
	ok := p.generation.Load() == gen
	if ok {
		p.transitionLocked(target, msg, &events)
	}
	p.mu.Unlock()
	p.emit(events)
	return ok
}

type buildOutcome struct {
	summary *backend.ContextSummary
	err     error
}

// Build validates paths and builds a context from them. paths is copied;
// later changes to the caller's slice do not affect the build.
func (p *Pipeline) Build(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.ContextSummary, error) {
	start := p.now()
	snapshot := append([]string(nil), paths...)
	ctx = logging.WithProject(ctx, projectPath)

	var events []signals.Signal
	p.mu.Lock()
	if p.building {
		p.mu.Unlock()
		return nil, ErrBuildInProgress
	}
	gen := p.generation.Add(1)
	p.building = true
	p.lastErr = nil
	p.transitionLocked(StatusValidating, "", &events)
	p.mu.Unlock()
	p.emit(events)

	defer func() {
		p.mu.Lock()
		if p.generation.Load() == gen {
			p.building = false
		}
		p.mu.Unlock()
	}()

	ctx, span := tracer().Start(ctx, "assembly.build", trace.WithAttributes(
		attribute.Int("assembly.files", len(snapshot)),
		attribute.Int64("assembly.generation", int64(gen)),
	))
	defer span.End()

	if res := p.Validate(ctx, snapshot); !res.IsValid {
		err := &ValidationError{Result: res}
		events = events[:0]
		p.mu.Lock()
		if p.generation.Load() == gen {
			back := StatusIdle
			if p.current != nil {
				back = StatusReady
			}
			p.lastErr = err
			p.transitionLocked(back, err.Error(), &events)
		}
		p.mu.Unlock()
		p.emit(events)
		p.inst.recordBuild(ctx, outcomeInvalid, p.now().Sub(start), 0)
		telemetry.RecordError(span, err)
		p.log.Info(ctx, "build rejected by validation", zap.Strings("errors", res.Errors))
		return nil, err
	}

	if !p.transition(gen, StatusBuilding, "") {
		return nil, ErrBuildSuperseded
	}

	done := make(chan buildOutcome, 1)
	go func() {
		done <- p.runBuild(ctx, gen, start, projectPath, snapshot, opts)
	}()

	timer := time.NewTimer(p.cfg.BuildTimeout)
	defer timer.Stop()
	var out buildOutcome
	select {
	case out = <-done:
	case <-timer.C:
		if err := p.expire(ctx, gen, start); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		// The build settled before the deadline; only its hooks are left.
		out = <-done
	}
	telemetry.RecordError(span, out.err)
	return out.summary, out.err
}

// expire forces a still-running build into the error state. The in-flight
// backend call keeps running; its result is discarded when it arrives.
// It returns nil when the build already reached ready or error.
func (p *Pipeline) expire(ctx context.Context, gen uint64, start time.Time) error {
	err := &TimeoutError{After: p.cfg.BuildTimeout}
	var events []signals.Signal
	p.mu.Lock()
	if p.generation.Load() == gen && !p.status.IsActive() {
		p.mu.Unlock()
		return nil
	}
	if !p.generation.CompareAndSwap(gen, gen+1) {
		p.mu.Unlock()
		return ErrBuildSuperseded
	}
	p.building = false
	p.lastErr = err
	p.transitionLocked(StatusError, err.Error(), &events)
	p.mu.Unlock()

	events = append(events, signals.BuildTimeout{Generation: gen, After: p.cfg.BuildTimeout})
	p.emit(events)
	p.inst.recordBuild(ctx, outcomeTimeout, p.now().Sub(start), 0)
	p.log.Warn(ctx, "build timed out", zap.Uint64("generation", gen), zap.Duration("after", p.cfg.BuildTimeout))
	return err
}

// runBuild performs the backend side of a build and commits the result if
// gen is still current.
func (p *Pipeline) runBuild(ctx context.Context, gen uint64, start time.Time, projectPath string, paths []string, opts backend.BuildOptions) buildOutcome {
	guard := p.buildGuard()
	if guard != nil {
		guard.BeforeBuild(ctx)
	}
	p.dropPrevious(ctx, gen)

	p.transition(gen, StatusStreaming, "")
	streamed := true
	var sum *backend.ContextSummary
	sc, err := p.backend.CreateStreamingContext(ctx, projectPath, paths, opts)
	if err == nil {
		sum = sc.Summary()
	} else if backend.IsServiceFault(err) {
		err = p.recoverMinimized(ctx, projectPath, paths, opts, err)
	} else {
		p.log.Info(ctx, "streaming build failed, falling back to batch build", zap.Error(err))
		p.transition(gen, StatusBuilding, "streaming failed, retrying as batch build")
		streamed = false
		sum, err = p.backend.BuildContext(ctx, projectPath, paths, opts)
		if err != nil {
			err = fmt.Errorf("batch build: %w", err)
		}
	}

	if err != nil {
		return p.fail(ctx, gen, start, err)
	}
	return p.commit(ctx, gen, start, sum, streamed, guard)
}

// dropPrevious deletes the current context on the backend and clears local
// references to it. Failures are logged and ignored.
func (p *Pipeline) dropPrevious(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if p.generation.Load() != gen {
		p.mu.Unlock()
		return
	}
	prev := p.current
	p.current = nil
	p.metrics = Metrics{}
	p.chunks.Purge()
	p.mu.Unlock()

	if prev == nil {
		return
	}
	if err := p.backend.DeleteContext(ctx, prev.ID); err != nil && !backend.IsNotFound(err) {
		p.log.Warn(logging.WithContextID(ctx, prev.ID), "failed to delete previous context", zap.Error(err))
	}
}

// recoverMinimized makes one minimized single-file request after a structural fault.
// Either way the build fails; the error says whether the selection or the
// backend is to blame.
func (p *Pipeline) recoverMinimized(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions, cause error) error {
	p.log.Warn(ctx, "backend fault, attempting minimized recovery build",
		zap.String("code", string(backend.CodeOf(cause))), zap.Error(cause))

	trial, err := p.backend.CreateStreamingContext(ctx, projectPath, paths[:1], opts)
	if err != nil {
		p.log.Error(ctx, "minimized recovery build failed", zap.Error(err))
		return &BackendServiceError{Code: backend.CodeOf(cause), Recovered: false, Cause: errors.Join(cause, err)}
	}
	if derr := p.backend.DeleteContext(ctx, trial.ID); derr != nil && !backend.IsNotFound(derr) {
		p.log.Warn(logging.WithContextID(ctx, trial.ID), "failed to delete recovery context", zap.Error(derr))
	}
	return &BackendServiceError{Code: backend.CodeOf(cause), Recovered: true, Cause: cause}
}

func (p *Pipeline) fail(ctx context.Context, gen uint64, start time.Time, err error) buildOutcome {
	var events []signals.Signal
	p.mu.Lock()
	if p.generation.Load() != gen {
		p.mu.Unlock()
		p.log.Debug(ctx, "discarding failure from superseded build", zap.Uint64("generation", gen), zap.Error(err))
		return buildOutcome{err: p.supersededErr(err)}
	}
	p.lastErr = err
	p.transitionLocked(StatusError, err.Error(), &events)
	p.mu.Unlock()
	p.emit(events)

	p.inst.recordBuild(ctx, outcomeBackend, p.now().Sub(start), 0)
	p.log.Error(ctx, "context build failed", zap.Uint64("generation", gen), zap.Error(err))
	return buildOutcome{err: err}
}

func (p *Pipeline) commit(ctx context.Context, gen uint64, start time.Time, sum *backend.ContextSummary, streamed bool, guard BuildGuard) buildOutcome {
	elapsed := p.now().Sub(start)
	m := Metrics{
		TokenCount:    sum.TokenCount,
		EstimatedCost: float64(sum.TokenCount) / 1e6 * p.cfg.CostPerMillionTokens,
		BuildDuration: sum.Metadata.BuildDuration,
		FileCount:     sum.FileCount,
		LineCount:     sum.LineCount,
		Streamed:      streamed,
	}
	if m.BuildDuration <= 0 {
		// Backends that do not report a duration get the local wall time.
		m.BuildDuration = elapsed
	}
	if sum.FileCount > 0 {
		m.AverageFileSize = sum.TotalSize / int64(sum.FileCount)
	}

	ctx = logging.WithContextID(ctx, sum.ID)
	var events []signals.Signal
	p.mu.Lock()
	if p.generation.Load() != gen {
		p.mu.Unlock()
		p.log.Info(ctx, "discarding late build result", zap.Uint64("generation", gen))
		if err := p.backend.DeleteContext(context.WithoutCancel(ctx), sum.ID); err != nil && !backend.IsNotFound(err) {
			p.log.Warn(ctx, "failed to delete discarded context", zap.Error(err))
		}
		p.inst.recordBuild(ctx, outcomeDiscarded, elapsed, 0)
		return buildOutcome{err: p.supersededErr(nil)}
	}
	p.current = sum.Clone()
	p.metrics = m
	p.lastErr = nil
	p.chunks = p.newChunkCache()
	p.transitionLocked(StatusReady, "", &events)
	out := p.current.Clone()
	p.mu.Unlock()
	p.emit(events)

	if guard != nil {
		guard.AfterBuild(ctx)
	}
	outcome := outcomeReady
	if !streamed {
		outcome = outcomeFallback
	}
	p.inst.recordBuild(ctx, outcome, elapsed, sum.TokenCount)
	p.log.Info(ctx, "context ready",
		zap.Int("files", sum.FileCount),
		zap.Int("tokens", sum.TokenCount),
		zap.Bool("streamed", streamed),
		zap.Duration("duration", elapsed),
	)
	return buildOutcome{summary: out}
}

// supersededErr picks the error returned to a caller whose build lost the
// generation race: the timeout if that is what happened, otherwise
// ErrBuildSuperseded.
func (p *Pipeline) supersededErr(cause error) error {
	p.mu.Lock()
	last := p.lastErr
	p.mu.Unlock()
	var te *TimeoutError
	if errors.As(last, &te) {
		return te
	}
	if cause != nil {
		return fmt.Errorf("%w: %w", ErrBuildSuperseded, cause)
	}
	return ErrBuildSuperseded
}

// GetContent returns one page of the current context. The context is checked
// first; if the backend no longer has it, local state is cleared and a
// *StaleReferenceError is returned.
func (p *Pipeline) GetContent(ctx context.Context, startLine, lineCount int) (*backend.ContextChunk, error) {
	req := backend.ChunkRequest{StartLine: startLine, LineCount: lineCount}.Clamp(p.cfg.DefaultPageLines, p.cfg.MaxPageLines)

	ctx, span := tracer().Start(ctx, "assembly.get_content", trace.WithAttributes(
		attribute.Int("assembly.start_line", req.StartLine),
		attribute.Int("assembly.line_count", req.LineCount),
	))
	defer span.End()

	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur == nil {
		return nil, ErrNoContext
	}
	id := cur.ID
	span.SetAttributes(attribute.String("assembly.context_id", id))
	ctx = logging.WithContextID(ctx, id)

	if _, err := p.backend.GetContextSummary(ctx, id); err != nil {
		err = p.contentError(ctx, id, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	key := chunkKey{start: req.StartLine, count: req.LineCount}
	p.mu.Lock()
	if p.current != nil && p.current.ID == id {
		if c, ok := p.chunks.Get(key); ok {
			p.mu.Unlock()
			p.inst.recordFetch(ctx, true)
			return cloneChunk(c), nil
		}
	}
	p.mu.Unlock()

	chunk, err := p.backend.GetContextContent(ctx, id, req)
	if err != nil {
		err = p.contentError(ctx, id, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	p.inst.recordFetch(ctx, false)

	p.mu.Lock()
	if p.current != nil && p.current.ID == id {
		p.chunks.Add(key, cloneChunk(chunk))
	}
	p.mu.Unlock()
	return chunk, nil
}

// contentError maps a backend NOT_FOUND for the current context to a stale
// reference and clears local state.
func (p *Pipeline) contentError(ctx context.Context, id string, err error) error {
	if !backend.IsNotFound(err) {
		return fmt.Errorf("fetch context %s: %w", id, err)
	}

	var events []signals.Signal
	p.mu.Lock()
	if p.current != nil && p.current.ID == id {
		p.current = nil
		p.metrics = Metrics{}
		p.chunks.Purge()
		p.transitionLocked(StatusIdle, "context no longer exists", &events)
		events = append(events, signals.StaleContext{ContextID: id})
	}
	p.mu.Unlock()
	p.emit(events)

	p.log.Warn(ctx, "context vanished on backend")
	return &StaleReferenceError{ContextID: id}
}

func cloneChunk(c *backend.ContextChunk) *backend.ContextChunk {
	out := *c
	out.Lines = append([]string(nil), c.Lines...)
	return &out
}

// Reset forgets the current context, e.g. on a project switch. Any in-flight
// build is superseded and the remote context is deleted best-effort.
func (p *Pipeline) Reset(ctx context.Context) {
	var events []signals.Signal
	p.mu.Lock()
	p.generation.Add(1)
	prev := p.current
	p.current = nil
	p.metrics = Metrics{}
	p.lastErr = nil
	p.building = false
	p.chunks.Purge()
	p.transitionLocked(StatusIdle, "reset", &events)
	p.mu.Unlock()
	p.emit(events)

	if prev == nil {
		return
	}
	if err := p.backend.DeleteContext(ctx, prev.ID); err != nil && !backend.IsNotFound(err) {
		p.log.Warn(logging.WithContextID(ctx, prev.ID), "failed to delete context on reset", zap.Error(err))
	}
}

// Status returns the current state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsBuilding reports whether a build is in flight.
func (p *Pipeline) IsBuilding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.building
}

// Current returns a copy of the current summary, or nil.
func (p *Pipeline) Current() *backend.ContextSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// Metrics returns the metrics of the current context.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// LastError returns the error that put the pipeline in its current state.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Generation returns the current build generation.
func (p *Pipeline) Generation() uint64 {
	return p.generation.Load()
}

// Config returns the pipeline limits.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// ChunkCacheLen returns the number of cached pages.
func (p *Pipeline) ChunkCacheLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks.Len()
}

// TrimChunkCache evicts the oldest pages until at most n remain and returns
// how many were evicted.
func (p *Pipeline) TrimChunkCache(n int) int {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for p.chunks.Len() > n {
		if _, _, ok := p.chunks.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	return evicted
}
