package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "history.db")}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{Path: "  "})
	assert.Error(t, err)
}

func TestSelectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.LoadSelection(ctx, "/proj")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	paths := []string{"/proj/z.go", "/proj/a.go", "/proj/m/n.go"}
	require.NoError(t, s.SaveSelection(ctx, "/proj", paths))
	got, err = s.LoadSelection(ctx, "/proj/")
	require.NoError(t, err)
	assert.Equal(t, paths, got, "order is preserved and project paths are cleaned")

	require.NoError(t, s.SaveSelection(ctx, "/proj", paths[:1]))
	got, err = s.LoadSelection(ctx, "/proj")
	require.NoError(t, err)
	assert.Equal(t, paths[:1], got)

	require.NoError(t, s.SaveSelection(ctx, "/proj", nil))
	got, err = s.LoadSelection(ctx, "/proj")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestKindsAndProjectsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSelection(ctx, "/a", []string{"/a/x.go"}))
	require.NoError(t, s.SaveExpanded(ctx, "/a", []string{"/a/dir", "/a/dir/sub"}))
	require.NoError(t, s.SaveSelection(ctx, "/b", []string{"/b/y.go"}))

	sel, err := s.LoadSelection(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/x.go"}, sel)

	exp, err := s.LoadExpanded(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/dir", "/a/dir/sub"}, exp)

	exp, err = s.LoadExpanded(ctx, "/b")
	require.NoError(t, err)
	assert.Empty(t, exp)
}

func TestProjects(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s := openTestStore(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	require.NoError(t, s.SaveSelection(ctx, "/old", []string{"/old/a"}))
	require.NoError(t, s.SaveSelection(ctx, "/new", []string{"/new/a", "/new/b"}))
	require.NoError(t, s.SaveExpanded(ctx, "/new", []string{"/new/d"}))

	projects, err := s.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, Project{Path: "/new", Selected: 2, Expanded: 1, UpdatedAt: base.Add(3 * time.Minute)}, projects[0])
	assert.Equal(t, "/old", projects[1].Path)

	require.NoError(t, s.Forget(ctx, "/new"))
	projects, err = s.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	sel, err := s.LoadSelection(ctx, "/new")
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SaveSelection(ctx, "/p", []string{"/p/a"}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadSelection(ctx, "/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a"}, got)
}

func TestInMemory(t *testing.T) {
	s, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SaveExpanded(ctx, "/p", []string{"/p/d"}))
	got, err := s.LoadExpanded(ctx, "/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/d"}, got)
}

func TestClosed(t *testing.T) {
	s, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.SaveSelection(ctx, "/p", nil), ErrClosed)
	_, err = s.LoadExpanded(ctx, "/p")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Projects(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Forget(ctx, "/p"), ErrClosed)
}
