package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/backend/local"
	"github.com/fyrsmithlabs/ctxpack/internal/history"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/scanner"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
)

type fixture struct {
	root    string
	backend *local.Service
	history *history.Store
	scanner *scanner.Scanner
	bus     *signals.Bus
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proj")
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	bcfg := local.DefaultConfig()
	bcfg.ContextDir = t.TempDir()
	bcfg.CleanupInterval = 0
	b, err := local.New(bcfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	h, err := history.Open(history.Config{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	sc, err := scanner.New(scanner.DefaultConfig())
	require.NoError(t, err)

	return &fixture{root: root, backend: b, history: h, scanner: sc, bus: signals.NewRecordingBus()}
}

func (f *fixture) open(t *testing.T, mutate func(*Config)) *Workspace {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := Open(context.Background(), f.root, cfg, f.scanner, f.backend,
		WithHistory(f.history),
		WithEmitter(f.bus),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

var sampleProject = map[string]string{
	".gitignore":  "*.log\n",
	"main.go":     "package main\n\nfunc main() {}\n",
	"pkg/util.go": "package pkg\n",
	"pkg/doc.go":  "// Package pkg.\npackage pkg\n",
	"debug.log":   "noise\n",
}

func TestOpen(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, nil)

	assert.Equal(t, f.root, w.Root())
	assert.Equal(t, 4, w.Index().FileCount())
	n, ok := w.Index().LookupRel("debug.log")
	require.True(t, ok)
	assert.True(t, n.IsGitignored)
	assert.Equal(t, assembly.StatusIdle, w.Pipeline().Status())
	assert.Empty(t, w.Engine().SelectedPaths())
}

func TestOpen_Errors(t *testing.T) {
	f := newFixture(t, sampleProject)
	_, err := Open(context.Background(), f.root, DefaultConfig(), nil, f.backend)
	assert.Error(t, err)

	_, err = Open(context.Background(), filepath.Join(f.root, "missing"), DefaultConfig(), f.scanner, f.backend)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Guard.Interval = 0
	_, err = Open(context.Background(), f.root, cfg, f.scanner, f.backend)
	assert.Error(t, err)
}

func TestHistory_PersistsAndRestores(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, nil)

	require.True(t, w.Engine().ToggleDirectory(f.path("pkg")).Success)
	require.True(t, w.Engine().Expand(f.path("pkg")).Success)
	require.NoError(t, w.Close())

	saved, err := f.history.LoadSelection(context.Background(), f.root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.path("pkg/util.go"), f.path("pkg/doc.go")}, saved)

	reopened := f.open(t, nil)
	assert.Equal(t, saved, reopened.Engine().SelectedPaths())
	assert.Equal(t, selection.Full, reopened.Engine().State(f.path("pkg")))
	assert.True(t, reopened.Engine().IsExpanded(f.path("pkg")))
}

func TestHistory_RestoreSkipsVanishedFiles(t *testing.T) {
	f := newFixture(t, sampleProject)
	require.NoError(t, f.history.SaveSelection(context.Background(), f.root,
		[]string{f.path("main.go"), f.path("gone.go"), f.path("debug.log")}))

	w := f.open(t, nil)
	assert.Equal(t, []string{f.path("main.go")}, w.Engine().SelectedPaths())
}

func TestBuild(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, nil)
	ctx := context.Background()

	_, err := w.Build(ctx, backend.DefaultBuildOptions())
	assert.ErrorIs(t, err, assembly.ErrValidation)

	require.True(t, w.Engine().ToggleLeaf(f.path("main.go")).Success)
	require.True(t, w.Validate(ctx).IsValid)

	sum, err := w.Build(ctx, backend.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FileCount)
	assert.Equal(t, backend.StatusReady, sum.Status)
	assert.Equal(t, assembly.StatusReady, w.Pipeline().Status())

	chunk, err := w.Pipeline().GetContent(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Contains(t, chunk.Text(), "func main() {}")
}

func TestLogging_ProjectField(t *testing.T) {
	f := newFixture(t, sampleProject)
	require.NoError(t, f.history.SaveSelection(context.Background(), f.root, []string{f.path("main.go")}))
	logs := logging.NewTestLogger()
	w, err := Open(context.Background(), f.root, DefaultConfig(), f.scanner, f.backend,
		WithHistory(f.history),
		WithLogger(logs.Underlying()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	logs.AssertField(t, "selection restored", "project.path", f.root)

	sum, err := w.Build(context.Background(), backend.DefaultBuildOptions())
	require.NoError(t, err)
	ready := logs.FilterMessage("context ready").All()
	require.Len(t, ready, 1)
	var projectFields int
	for _, field := range ready[0].Context {
		if field.Key == "project.path" {
			projectFields++
		}
	}
	assert.Equal(t, 1, projectFields)
	logs.AssertField(t, "context ready", "context.id", sum.ID)
}

func TestRefresh_RevalidatesSelection(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, nil)
	ctx := context.Background()

	require.True(t, w.Engine().ToggleLeaf(f.path("main.go")).Success)
	require.True(t, w.Engine().ToggleLeaf(f.path("pkg/util.go")).Success)
	require.NoError(t, os.Remove(f.path("pkg/util.go")))
	require.NoError(t, os.WriteFile(f.path("new.go"), []byte("package main\n"), 0o644))

	before := w.Index()
	dropped, err := w.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.path("pkg/util.go")}, dropped)
	assert.Equal(t, []string{f.path("main.go")}, w.Engine().SelectedPaths())
	assert.True(t, w.Index().Contains(f.path("new.go")))
	assert.NotSame(t, before, w.Index())
	assert.Same(t, w.Engine().Index(), w.Index(), "tree and selection share one index")

	saved, err := f.history.LoadSelection(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, []string{f.path("main.go")}, saved)

	// Validation sees sizes from the new tree.
	require.True(t, w.Engine().ToggleLeaf(f.path("new.go")).Success)
	assert.True(t, w.Validate(ctx).IsValid)
}

func TestStart_WatchRefreshesTree(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, func(c *Config) {
		c.Watch = true
		c.Watcher.Debounce = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, w.Engine().ToggleLeaf(f.path("pkg/doc.go")).Success)
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.Guard().IsRunning())

	require.NoError(t, os.WriteFile(f.path("pkg/added.go"), []byte("package pkg\n"), 0o644))
	require.Eventually(t, func() bool {
		return w.Index().Contains(f.path("pkg/added.go"))
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, selection.Partial, w.Engine().State(f.path("pkg")))

	require.NoError(t, os.Remove(f.path("pkg/doc.go")))
	require.Eventually(t, func() bool {
		return w.Engine().SelectedCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClose(t *testing.T) {
	f := newFixture(t, sampleProject)
	w := f.open(t, nil)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.False(t, w.Guard().IsRunning())
	assert.ErrorIs(t, w.Start(context.Background()), ErrClosed)
	_, err := w.Refresh(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestGuardBoundsRestoredSelection(t *testing.T) {
	f := newFixture(t, sampleProject)
	require.NoError(t, f.history.SaveSelection(context.Background(), f.root,
		[]string{f.path("main.go"), f.path("pkg/doc.go"), f.path("pkg/util.go")}))

	w := f.open(t, func(c *Config) { c.Selection.MaxSelectedPaths = 2 })
	assert.Len(t, w.Engine().SelectedPaths(), 2)

	rep := w.Guard().Sweep(context.Background())
	assert.Zero(t, rep.Evicted())
	assert.NotEmpty(t, f.bus.EventsOfKind(signals.KindCapacityExceeded))
}
