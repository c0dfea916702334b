package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) handle(changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changed)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func (r *recorder) all() map[string]bool {
	out := make(map[string]bool)
	for _, b := range r.snapshot() {
		for _, p := range b {
			out[p] = true
		}
	}
	return out
}

func startWatcher(t *testing.T, root string, cfg Config) *recorder {
	t.Helper()
	rec := &recorder{}
	w, err := New(root, cfg, rec.handle)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return rec
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(t.TempDir(), DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestStart_MissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), DefaultConfig(), func([]string) {})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Debounce = 100 * time.Millisecond
	rec := startWatcher(t, root, cfg)

	a := filepath.Join(root, "a.go")
	b := filepath.Join(root, "b.go")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(a, []byte{byte('a' + i)}, 0o644))
		require.NoError(t, os.WriteFile(b, []byte{byte('a' + i)}, 0o644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * cfg.Debounce)
	batches := rec.snapshot()
	assert.Len(t, batches, 1, "a burst of writes is reported once")
	assert.Equal(t, []string{a, b}, batches[0])
}

func TestWatcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	rec := startWatcher(t, root, cfg)

	dir := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.Eventually(t, func() bool { return rec.all()[dir] }, 2*time.Second, 10*time.Millisecond)

	file := filepath.Join(dir, "x.go")
	require.NoError(t, os.WriteFile(file, []byte("package pkg\n"), 0o644))
	assert.Eventually(t, func() bool { return rec.all()[file] }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_SkipDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "refs"), 0o755))
	cfg := DefaultConfig()
	cfg.Debounce = 50 * time.Millisecond
	rec := startWatcher(t, root, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "refs", "main"), []byte("x"), 0o644))
	visible := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return rec.all()[visible] }, 2*time.Second, 10*time.Millisecond)
	for p := range rec.all() {
		assert.NotContains(t, p, ".git")
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w, err := New(root, Config{Debounce: 200 * time.Millisecond}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("x"), 0o644))
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_ContextCancel(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	w, err := New(root, Config{Debounce: 20 * time.Millisecond}, rec.handle)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
