package local

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		path string
		in   string
		want string
	}{
		{"go line comment", "a.go", "x := 1 // one\n", "x := 1 \n"},
		{"go block comment", "a.go", "a /* b\nc */ d", "a \n d"},
		{"slashes in string", "a.go", `u := "http://x" // c`, `u := "http://x" `},
		{"escaped quote", "a.js", `s = "a\"//b"`, `s = "a\"//b"`},
		{"raw string", "a.go", "r := `// kept`", "r := `// kept`"},
		{"char literal", "a.c", "c = '/'; // x", "c = '/'; "},
		{"python", "a.py", "#!/usr/bin/env python\n# note\nx = 1\n", "#!/usr/bin/env python\nx = 1\n"},
		{"yaml", "c.yaml", "a: 1\n  # indented\nb: 2", "a: 1\nb: 2"},
		{"html", "i.html", "<p><!-- hi --></p>", "<p></p>"},
		{"unknown ext", "README", "// stays", "// stays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripComments(tt.in, tt.path))
		})
	}
}

func TestWhitespaceTransforms(t *testing.T) {
	assert.Equal(t, "a\n\nb\n", collapseEmptyLines("a\n\n\n  \nb\n"))
	assert.Equal(t, "a\nb\n", trimTrailingWhitespace("a  \nb\t\n"))
	assert.Equal(t, "1 | a", addLineNumbers("a"))

	numbered := addLineNumbers("a\nb\nc\nd\ne\nf\ng\nh\ni\nj")
	assert.True(t, strings.HasPrefix(numbered, " 1 | a\n"))
	assert.True(t, strings.HasSuffix(numbered, " 9 | i\n10 | j"))
}

func TestIsTestFile(t *testing.T) {
	tests := map[string]bool{
		"main.go":                  false,
		"main_test.go":             true,
		"src/app.spec.ts":          true,
		"src/app.test.tsx":         true,
		"test_utils.py":            true,
		"pkg/tests/helper.go":      true,
		"__tests__/x.js":           true,
		"src/UserServiceTest.java": true,
		"src/TestUserService.java": true,
		"src/Testing.go":           false,
		"src/contest.go":           false,
		"Button.stories.tsx":       true,
		"testdata/in.txt":          true,
		"latest.go":                false,
	}
	for path, want := range tests {
		assert.Equal(t, want, isTestFile(path), path)
	}
}

func TestTransformOrder(t *testing.T) {
	in := "a // c  \n\n\n\nb"
	assert.Equal(t, in, transform(in, "x.go", false, false, false))
	assert.Equal(t, "a\n\nb", transform(in, "x.go", true, true, true))
}
