package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

var sampleProject = map[string]string{
	".gitignore":  "*.log\n",
	"main.go":     "package main\n\nfunc main() {}\n",
	"pkg/util.go": "package pkg\n",
	"pkg/doc.go":  "// Package pkg.\npackage pkg\n",
	"debug.log":   "noise\n",
}

// setup isolates config, history and the context store in temp dirs and
// writes the sample project.
func setup(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	t.Setenv("CTXPACK_BACKEND_CONTEXT_DIR", filepath.Join(home, "contexts"))
	t.Setenv("CTXPACK_HISTORY_PATH", filepath.Join(home, "history.db"))
	t.Setenv("CTXPACK_LOGGING_LEVEL", "error")
	t.Setenv("CTXPACK_WATCHER_ENABLED", "false")

	root := filepath.Join(t.TempDir(), "proj")
	for rel, content := range sampleProject {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var contextIDPattern = regexp.MustCompile(`Context: (\S+)`)

func buildID(t *testing.T, root string, paths ...string) string {
	t.Helper()
	out, err := run(t, append([]string{"-p", root, "build"}, paths...)...)
	require.NoError(t, err)
	m := contextIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestBuild_Print(t *testing.T) {
	root := setup(t)
	out, err := run(t, "-p", root, "build", "main.go", "--format", "plain", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "func main() {}")
	assert.NotContains(t, out, "package pkg")
}

func TestBuild_Output(t *testing.T) {
	root := setup(t)
	dest := filepath.Join(t.TempDir(), "ctx.md")
	_, err := run(t, "-p", root, "build", "pkg", "-f", "markdown", "-o", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "package pkg")
	assert.Contains(t, string(data), "```")
}

func TestBuild_SelectionPersists(t *testing.T) {
	root := setup(t)
	buildID(t, root, "pkg")

	out, err := run(t, "-p", root, "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] pkg/")
	assert.Contains(t, out, "[ ] main.go")
	assert.Contains(t, out, "4 files, 2 selected")

	out, err = run(t, "-p", root, "tree", "--all", "--ignored")
	require.NoError(t, err)
	assert.Contains(t, out, "[x] util.go")
	assert.Contains(t, out, "[-] debug.log")

	out, err = run(t, "-p", root, "build", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Files:   2")
	assert.Contains(t, out, "Ready to build")
}

func TestBuild_Errors(t *testing.T) {
	root := setup(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"empty selection", nil, "cannot build"},
		{"outside project", []string{"../other.go"}, "outside the project"},
		{"ignored file", []string{"debug.log"}, "ignore"},
		{"unknown format", []string{"main.go", "--format", "yaml"}, "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"-p", root, "build"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := run(t, "-p", filepath.Join(root, "missing"), "tree")
	assert.ErrorContains(t, err, "open project")
}

func TestContexts_ListShowRm(t *testing.T) {
	root := setup(t)
	id := buildID(t, root, "main.go", "--format", "plain", "--no-manifest")

	out, err := run(t, "-p", root, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "proj - main.go")

	out, err = run(t, "-p", root, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "func main() {}")

	out, err = run(t, "-p", root, "show", id, "--start", "0", "--count", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("\n")))

	out, err = run(t, "-p", root, "show", id, "--summary", "--json")
	require.NoError(t, err)
	var sum backend.ContextSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, id, sum.ID)
	assert.Equal(t, 1, sum.FileCount)

	out, err = run(t, "-p", root, "rm", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	out, err = run(t, "-p", root, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No contexts found")

	_, err = run(t, "-p", root, "show", id)
	require.Error(t, err)
	assert.True(t, backend.IsNotFound(err), "got %v", err)
}

func TestHistory(t *testing.T) {
	root := setup(t)
	buildID(t, root, "main.go")

	out, err := run(t, "-p", root, "history")
	require.NoError(t, err)
	assert.Contains(t, out, root)

	out, err = run(t, "-p", root, "history", "--forget")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot "+root)

	out, err = run(t, "-p", root, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved projects")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
	}
}
