// Package selection owns the tri-state file selection of a project tree.
//
// The set of selected leaf (file) paths is the single source of truth.
// Directory state is derived: Full when every non-ignored leaf below is
// selected, None when none is, Partial otherwise. The engine keeps a per
// directory count of selected leaves so that State is O(1), updating it on
// every insertion, removal and capacity eviction by walking ancestors.
//
// All mutations run under one mutex and never block on I/O. Signals and
// hooks fire after the mutex is released, so observers never see a
// half-applied cascade.
package selection

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
)

// Set names reported in capacity warnings.
const (
	SetSelected = "selected"
	SetExpanded = "expanded"
)

// State is the derived tri-state of a node.
type State int

const (
	None State = iota
	Partial
	Full
)

func (s State) String() string {
	switch s {
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return "none"
	}
}

// Config holds selection ceilings.
type Config struct {
	MaxSelectedPaths int  `json:"max_selected_paths" koanf:"max_selected_paths"`
	MaxExpandedPaths int  `json:"max_expanded_paths" koanf:"max_expanded_paths"`
	AllowBinary      bool `json:"allow_binary" koanf:"allow_binary"`
}

// DefaultConfig returns the default ceilings.
func DefaultConfig() Config {
	return Config{
		MaxSelectedPaths: 500,
		MaxExpandedPaths: 1000,
	}
}

// Validate checks the ceilings.
func (c Config) Validate() error {
	if c.MaxSelectedPaths <= 0 {
		return fmt.Errorf("max_selected_paths: %w", ErrInvalidSize)
	}
	if c.MaxExpandedPaths <= 0 {
		return fmt.Errorf("max_expanded_paths: %w", ErrInvalidSize)
	}
	return nil
}

// Result is returned by every mutating operation.
type Result struct {
	Success       bool
	AffectedCount int
	Err           error
	// Warning is set when the operation succeeded but evicted entries.
	Warning *CapacityWarning
}

// Snapshot is a point-in-time copy of both sets, oldest entry first.
type Snapshot struct {
	Selected []string `json:"selected"`
	Expanded []string `json:"expanded"`
}

// Hooks receive committed changes. They run outside the engine lock and may
// call back into the engine.
type Hooks struct {
	OnSelectionChanged func(selected []string)
	OnExpandedChanged  func(expanded []string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEmitter sets the signal emitter.
func WithEmitter(em signals.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithHooks sets selection-history hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) {
		e.hooks = h
	}
}

// Engine is the selection-cascade engine for one project.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	index    *filetree.Index
	selected *simplelru.LRU[string, int64]
	expanded *simplelru.LRU[string, struct{}]

	// selectedUnder[dir] counts selected leaves below dir.
	selectedUnder map[string]int
	selectedSize  int64

	// Keys dropped by the LRU callbacks during the current call.
	dropped         []string
	droppedExpanded []string

	hooks   Hooks
	emitter signals.Emitter
	logger  *zap.Logger
}

// NewEngine creates an engine over idx. A nil index is treated as an empty
// tree.
func NewEngine(idx *filetree.Index, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if idx == nil {
		idx, _ = filetree.BuildIndex(nil)
	}

	e := &Engine{
		cfg:           cfg,
		index:         idx,
		selectedUnder: make(map[string]int),
		emitter:       signals.Nop{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	sel, err := simplelru.NewLRU[string, int64](cfg.MaxSelectedPaths, e.onSelectedDrop)
	if err != nil {
		return nil, fmt.Errorf("selected set: %w", err)
	}
	exp, err := simplelru.NewLRU[string, struct{}](cfg.MaxExpandedPaths, e.onExpandedDrop)
	if err != nil {
		return nil, fmt.Errorf("expanded set: %w", err)
	}
	e.selected = sel
	e.expanded = exp
	return e, nil
}

// onSelectedDrop runs for every removal from the selected set, including
// capacity eviction, so the derived counts always match the set.
func (e *Engine) onSelectedDrop(path string, size int64) {
	for _, dir := range e.index.Ancestors(path) {
		if e.selectedUnder[dir] <= 1 {
			delete(e.selectedUnder, dir)
		} else {
			e.selectedUnder[dir]--
		}
	}
	e.selectedSize -= size
	e.dropped = append(e.dropped, path)
}

func (e *Engine) onExpandedDrop(path string, _ struct{}) {
	e.droppedExpanded = append(e.droppedExpanded, path)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Index returns the current tree index.
func (e *Engine) Index() *filetree.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// change accumulates what one call did so notifications can be sent after
// unlocking.
type change struct {
	affected         int
	evicted          []string
	expandedEvicted  []string
	selectionChanged bool
	expandedChanged  bool
}

// addLeaf inserts a leaf and accounts for it. The caller has validated path.
func (e *Engine) addLeaf(path string, size int64, ch *change) {
	if e.selected.Contains(path) {
		return
	}
	for _, dir := range e.index.Ancestors(path) {
		e.selectedUnder[dir]++
	}
	e.selectedSize += size
	e.dropped = e.dropped[:0]
	if e.selected.Add(path, size) {
		ch.evicted = append(ch.evicted, e.dropped...)
	}
	e.dropped = e.dropped[:0]
	ch.affected++
	ch.selectionChanged = true
}

func (e *Engine) removeLeaf(path string, ch *change) {
	if e.selected.Remove(path) {
		ch.affected++
		ch.selectionChanged = true
	}
	e.dropped = e.dropped[:0]
}

func (e *Engine) addExpanded(path string, ch *change) {
	if e.expanded.Contains(path) {
		return
	}
	e.droppedExpanded = e.droppedExpanded[:0]
	if e.expanded.Add(path, struct{}{}) {
		ch.expandedEvicted = append(ch.expandedEvicted, e.droppedExpanded...)
	}
	e.droppedExpanded = e.droppedExpanded[:0]
	ch.affected++
	ch.expandedChanged = true
}

// lookup resolves path against the current index.
func (e *Engine) lookup(path string) (*filetree.FileNode, error) {
	n, ok := e.index.Lookup(path)
	if !ok {
		return nil, &StaleNodeError{Path: path}
	}
	return n, nil
}

// checkLeaf reports why a file may not be selected.
func (e *Engine) checkLeaf(n *filetree.FileNode) error {
	if n.IsDir {
		return ErrNotAFile
	}
	if !e.index.IsEligible(n.Path) {
		return ErrIgnored
	}
	if n.IsBinary && !e.cfg.AllowBinary {
		return ErrBinary
	}
	return nil
}

// finish releases the lock, then sends signals and hooks for ch.
func (e *Engine) finish(ch *change, err error) Result {
	var selected, expanded []string
	if ch.selectionChanged {
		selected = e.selected.Keys()
	}
	if ch.expandedChanged {
		expanded = e.expanded.Keys()
	}
	selCount := e.selected.Len()
	e.mu.Unlock()

	res := Result{Success: err == nil, AffectedCount: ch.affected, Err: err}

	if len(ch.evicted) > 0 {
		res.Warning = &CapacityWarning{Set: SetSelected, Ceiling: e.cfg.MaxSelectedPaths, Evicted: ch.evicted}
		e.warnCapacity(res.Warning)
	}
	if len(ch.expandedEvicted) > 0 {
		w := &CapacityWarning{Set: SetExpanded, Ceiling: e.cfg.MaxExpandedPaths, Evicted: ch.expandedEvicted}
		if res.Warning == nil {
			res.Warning = w
		}
		e.warnCapacity(w)
	}
	if ch.selectionChanged {
		e.emitter.Emit(signals.SelectionChanged{Selected: selCount, Affected: ch.affected})
		if e.hooks.OnSelectionChanged != nil {
			e.hooks.OnSelectionChanged(selected)
		}
	}
	if ch.expandedChanged && e.hooks.OnExpandedChanged != nil {
		e.hooks.OnExpandedChanged(expanded)
	}
	return res
}

func (e *Engine) warnCapacity(w *CapacityWarning) {
	e.logger.Warn("selection capacity reached, evicted oldest entries",
		zap.String("set", w.Set),
		zap.Int("ceiling", w.Ceiling),
		zap.Int("evicted", len(w.Evicted)),
	)
	e.emitter.Emit(signals.CapacityExceeded{Set: w.Set, Ceiling: w.Ceiling, Evicted: w.Evicted})
}

// ToggleLeaf flips the selection of one file.
func (e *Engine) ToggleLeaf(path string) Result {
	e.mu.Lock()
	ch := &change{}
	n, err := e.lookup(path)
	if err != nil {
		return e.finish(ch, err)
	}
	if e.selected.Contains(path) {
		e.removeLeaf(path, ch)
		return e.finish(ch, nil)
	}
	if err := e.checkLeaf(n); err != nil {
		return e.finish(ch, err)
	}
	e.addLeaf(path, n.Size, ch)
	return e.finish(ch, nil)
}

// ToggleDirectory selects every eligible leaf under a directory unless the
// directory is already Full, in which case it deselects them all.
func (e *Engine) ToggleDirectory(path string) Result {
	e.mu.Lock()
	ch := &change{}
	n, err := e.lookup(path)
	if err != nil {
		return e.finish(ch, err)
	}
	if !n.IsDir {
		return e.finish(ch, ErrNotADirectory)
	}
	if !e.index.IsEligible(path) {
		return e.finish(ch, ErrIgnored)
	}
	if e.stateLocked(n) == Full {
		e.deselectUnder(n, ch)
		return e.finish(ch, nil)
	}
	e.selectUnder(n, ch)
	// Nothing left to add (e.g. only binaries remain): treat as Full.
	if ch.affected == 0 {
		e.deselectUnder(n, ch)
	}
	return e.finish(ch, nil)
}

// SelectRecursive selects a file or every eligible leaf under a directory.
func (e *Engine) SelectRecursive(path string) Result {
	e.mu.Lock()
	ch := &change{}
	n, err := e.lookup(path)
	if err != nil {
		return e.finish(ch, err)
	}
	if !e.index.IsEligible(path) {
		return e.finish(ch, ErrIgnored)
	}
	if !n.IsDir {
		if err := e.checkLeaf(n); err != nil {
			return e.finish(ch, err)
		}
		e.addLeaf(path, n.Size, ch)
		return e.finish(ch, nil)
	}
	e.selectUnder(n, ch)
	return e.finish(ch, nil)
}

// DeselectRecursive removes a file or every leaf under a directory.
func (e *Engine) DeselectRecursive(path string) Result {
	e.mu.Lock()
	ch := &change{}
	n, err := e.lookup(path)
	if err != nil {
		return e.finish(ch, err)
	}
	if !n.IsDir {
		e.removeLeaf(path, ch)
		return e.finish(ch, nil)
	}
	e.deselectUnder(n, ch)
	return e.finish(ch, nil)
}

// selectUnder adds every selectable leaf under dir. Binary files are
// skipped rather than failing the whole cascade.
func (e *Engine) selectUnder(dir *filetree.FileNode, ch *change) {
	for _, leaf := range filetree.CollectLeavesUnder(dir) {
		n, ok := e.index.Lookup(leaf)
		if !ok || e.checkLeaf(n) != nil {
			continue
		}
		e.addLeaf(leaf, n.Size, ch)
	}
}

func (e *Engine) deselectUnder(dir *filetree.FileNode, ch *change) {
	if e.selectedUnder[dir.Path] == 0 {
		return
	}
	for _, leaf := range filetree.CollectLeavesUnder(dir) {
		e.removeLeaf(leaf, ch)
	}
}

// State returns the derived tri-state of path. Unknown paths and empty or
// ignored directories report None.
func (e *Engine) State(path string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.index.Lookup(path)
	if !ok {
		return None
	}
	return e.stateLocked(n)
}

func (e *Engine) stateLocked(n *filetree.FileNode) State {
	if !n.IsDir {
		if e.selected.Contains(n.Path) {
			return Full
		}
		return None
	}
	total := e.index.LeafCount(n.Path)
	got := e.selectedUnder[n.Path]
	switch {
	case total == 0 || got == 0:
		return None
	case got >= total:
		return Full
	default:
		return Partial
	}
}

// IsSelected reports whether a file is selected.
func (e *Engine) IsSelected(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected.Contains(path)
}

// SelectedPaths returns the selected files, oldest first.
func (e *Engine) SelectedPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected.Keys()
}

// SelectedCount returns the number of selected files.
func (e *Engine) SelectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected.Len()
}

// SelectedSize returns the total byte size of the selected files.
func (e *Engine) SelectedSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selectedSize
}

// Expand marks a directory expanded.
func (e *Engine) Expand(path string) Result {
	e.mu.Lock()
	ch := &change{}
	n, err := e.lookup(path)
	if err != nil {
		return e.finish(ch, err)
	}
	if !n.IsDir {
		return e.finish(ch, ErrNotADirectory)
	}
	e.addExpanded(path, ch)
	return e.finish(ch, nil)
}

// Collapse marks a directory collapsed. Collapsing an unknown path is a
// no-op so stale UI rows can always close.
func (e *Engine) Collapse(path string) Result {
	e.mu.Lock()
	ch := &change{}
	if e.expanded.Remove(path) {
		ch.affected++
		ch.expandedChanged = true
	}
	e.droppedExpanded = e.droppedExpanded[:0]
	return e.finish(ch, nil)
}

// ToggleExpanded flips a directory's expansion.
func (e *Engine) ToggleExpanded(path string) Result {
	if e.IsExpanded(path) {
		return e.Collapse(path)
	}
	return e.Expand(path)
}

// IsExpanded reports whether path is expanded.
func (e *Engine) IsExpanded(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded.Contains(path)
}

// ExpandedPaths returns the expanded directories, oldest first.
func (e *Engine) ExpandedPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded.Keys()
}

// RestoreExpandedPaths replaces the expanded set. Paths that are no longer
// directories in the tree are skipped.
func (e *Engine) RestoreExpandedPaths(paths []string) Result {
	e.mu.Lock()
	ch := &change{}
	if e.expanded.Len() > 0 {
		e.expanded.Purge()
		ch.expandedChanged = true
	}
	e.droppedExpanded = e.droppedExpanded[:0]
	for _, p := range paths {
		if n, ok := e.index.Lookup(p); ok && n.IsDir {
			e.addExpanded(p, ch)
		}
	}
	return e.finish(ch, nil)
}

// RestoreSelection replaces the selected set with the still-selectable
// entries of paths, keeping their order.
func (e *Engine) RestoreSelection(paths []string) Result {
	e.mu.Lock()
	ch := &change{}
	if e.selected.Len() > 0 {
		e.selected.Purge()
		ch.selectionChanged = true
	}
	e.dropped = e.dropped[:0]
	for _, p := range paths {
		n, ok := e.index.Lookup(p)
		if !ok || e.checkLeaf(n) != nil {
			continue
		}
		e.addLeaf(p, n.Size, ch)
	}
	return e.finish(ch, nil)
}

// Clear deselects everything. Expansion is kept.
func (e *Engine) Clear() Result {
	e.mu.Lock()
	ch := &change{affected: e.selected.Len()}
	if ch.affected > 0 {
		e.selected.Purge()
		ch.selectionChanged = true
	}
	e.dropped = e.dropped[:0]
	return e.finish(ch, nil)
}

// Reindex swaps in a freshly loaded tree and re-validates both sets against
// it. Selected paths that no longer exist as selectable files are dropped
// and returned.
func (e *Engine) Reindex(idx *filetree.Index) []string {
	if idx == nil {
		idx, _ = filetree.BuildIndex(nil)
	}

	e.mu.Lock()
	ch := &change{}
	prevSelected := e.selected.Keys()
	prevExpanded := e.expanded.Keys()

	// Purge against the old index so the derived counts drain to zero.
	e.selected.Purge()
	e.expanded.Purge()
	e.dropped = e.dropped[:0]
	e.droppedExpanded = e.droppedExpanded[:0]
	e.selectedUnder = make(map[string]int)
	e.selectedSize = 0
	e.index = idx

	var removed []string
	for _, p := range prevSelected {
		n, ok := idx.Lookup(p)
		if !ok || e.checkLeaf(n) != nil {
			removed = append(removed, p)
			continue
		}
		e.addLeaf(p, n.Size, ch)
	}
	for _, p := range prevExpanded {
		if n, ok := idx.Lookup(p); ok && n.IsDir {
			e.addExpanded(p, ch)
		}
	}

	ch.affected = len(removed)
	ch.selectionChanged = len(removed) > 0
	ch.expandedChanged = e.expanded.Len() != len(prevExpanded)
	if len(removed) > 0 {
		e.logger.Info("selection re-validated after refresh",
			zap.Int("dropped", len(removed)),
			zap.Int("kept", e.selected.Len()),
		)
	}
	e.finish(ch, nil)
	return removed
}

// Snapshot copies both sets.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Selected: e.selected.Keys(),
		Expanded: e.expanded.Keys(),
	}
}

// Trim evicts the oldest entries until the selected and expanded sets are
// within the given sizes, returning what was evicted. It does not emit
// capacity signals; the caller reports them.
func (e *Engine) Trim(maxSelected, maxExpanded int) (selected, expanded []string) {
	e.mu.Lock()
	ch := &change{}
	for maxSelected >= 0 && e.selected.Len() > maxSelected {
		k, _, ok := e.selected.RemoveOldest()
		if !ok {
			break
		}
		selected = append(selected, k)
	}
	e.dropped = e.dropped[:0]
	for maxExpanded >= 0 && e.expanded.Len() > maxExpanded {
		k, _, ok := e.expanded.RemoveOldest()
		if !ok {
			break
		}
		expanded = append(expanded, k)
	}
	e.droppedExpanded = e.droppedExpanded[:0]

	ch.affected = len(selected) + len(expanded)
	ch.selectionChanged = len(selected) > 0
	ch.expandedChanged = len(expanded) > 0
	e.finish(ch, nil)
	return selected, expanded
}
