package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# this is a comment", ""},
		{"negation kept", "!important.txt", "!important.txt"},
		{"trailing whitespace", "*.log  \t", "*.log"},
		{"crlf", "dist/\r", "dist/"},
		{"escaped trailing space", `name\ `, `name\ `},
		{"directory", "node_modules/", "node_modules/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLine(tt.line))
		})
	}
}

func TestParseProject(t *testing.T) {
	tmpDir := t.TempDir()

	custom := `# generated
dist/
*.snap

node_modules/
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".ctxpackignore"), []byte(custom), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".extraignore"), []byte("node_modules/\n*.tmp\n"), 0o644))

	parser := NewParser([]string{".ctxpackignore", ".extraignore"}, []string{"fallback/"})
	patterns, err := parser.ParseProject(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/", "*.snap", "node_modules/", "*.tmp"}, patterns)
}

func TestParseProject_NoIgnoreFiles(t *testing.T) {
	fallback := []string{".git/", "node_modules/"}
	parser := NewParser([]string{".ctxpackignore"}, fallback)

	patterns, err := parser.ParseProject(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, fallback, patterns)

	patterns[0] = "mutated"
	assert.Equal(t, ".git/", parser.FallbackPatterns[0])
}

func TestDeduplicate(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "d"}, deduplicate([]string{"a", "b", "a", "c", "b", "d"}))
}

func TestMatcher(t *testing.T) {
	m := Compile([]string{"# comment", "build/", "*.log", "!keep.log", "docs/*.pdf", ""})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"build", true, true},
		{"build", false, false},
		{"src/build", true, true},
		{"build/out.js", false, true},
		{"app.log", false, true},
		{"nested/deep/trace.log", false, true},
		{"keep.log", false, false},
		{"docs/guide.pdf", false, true},
		{"docs/guide.md", false, false},
		{"main.go", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
	assert.Equal(t, []string{"build/", "*.log", "!keep.log", "docs/*.pdf"}, m.Patterns())
}

func TestMatcher_Empty(t *testing.T) {
	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Match("anything", false))
	assert.Nil(t, nilMatcher.Patterns())
	assert.False(t, Compile(nil).Match("anything", true))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir, "", []string{"*.tmp"})
	require.NoError(t, err)
	assert.True(t, m.Match("x.tmp", false))
	assert.False(t, m.Match("x.go", false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("secret/\n"), 0o644))
	m, err = Load(dir, "", []string{"*.tmp"})
	require.NoError(t, err)
	assert.True(t, m.Match("secret", true))
	assert.True(t, m.Match("x.tmp", false))
}
