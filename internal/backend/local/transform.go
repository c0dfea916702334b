package local

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	cStyleExts = map[string]bool{
		".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".java": true,
		".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true, ".cs": true,
		".rs": true, ".swift": true, ".kt": true, ".scala": true, ".css": true,
	}
	hashExts = map[string]bool{
		".py": true, ".sh": true, ".bash": true, ".rb": true, ".yaml": true, ".yml": true,
		".toml": true, ".pl": true, ".r": true,
	}
	markupExts = map[string]bool{
		".html": true, ".htm": true, ".xml": true, ".svg": true, ".vue": true,
	}

	markupComment = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// stripComments removes comments according to the file extension. Unknown
// extensions are returned unchanged.
func stripComments(content, filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	switch {
	case cStyleExts[ext]:
		return stripCStyle(content, ext == ".go" || ext == ".js" || ext == ".ts" || ext == ".jsx" || ext == ".tsx")
	case hashExts[ext]:
		return stripHash(content)
	case markupExts[ext]:
		return markupComment.ReplaceAllString(content, "")
	}
	return content
}

// stripCStyle removes // and /* */ comments outside string literals.
// Backtick strings are recognised when rawStrings is set.
func stripCStyle(content string, rawStrings bool) string {
	var b strings.Builder
	b.Grow(len(content))

	const (
		code = iota
		lineComment
		blockComment
		dquote
		squote
		backtick
	)
	state := code
	for i := 0; i < len(content); i++ {
		c := content[i]
		var next byte
		if i+1 < len(content) {
			next = content[i+1]
		}

		switch state {
		case code:
			switch {
			case c == '/' && next == '/':
				state = lineComment
				i++
			case c == '/' && next == '*':
				state = blockComment
				i++
			default:
				switch {
				case c == '"':
					state = dquote
				case c == '\'':
					state = squote
				case c == '`' && rawStrings:
					state = backtick
				}
				b.WriteByte(c)
			}
		case lineComment:
			if c == '\n' {
				state = code
				b.WriteByte(c)
			}
		case blockComment:
			if c == '*' && next == '/' {
				state = code
				i++
			} else if c == '\n' {
				b.WriteByte(c)
			}
		case dquote, squote:
			b.WriteByte(c)
			switch {
			case c == '\\' && i+1 < len(content):
				b.WriteByte(next)
				i++
			case c == '"' && state == dquote, c == '\'' && state == squote, c == '\n':
				state = code
			}
		case backtick:
			b.WriteByte(c)
			if c == '`' {
				state = code
			}
		}
	}
	return b.String()
}

// stripHash drops full-line # comments, keeping a leading shebang.
func stripHash(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && !(i == 0 && strings.HasPrefix(trimmed, "#!")) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// collapseEmptyLines squeezes runs of blank lines to a single blank line.
func collapseEmptyLines(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		isBlank := strings.TrimSpace(line) == ""
		if isBlank && blank {
			continue
		}
		blank = isBlank
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// trimTrailingWhitespace removes trailing spaces and tabs from every line.
func trimTrailingWhitespace(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

// addLineNumbers prefixes each line with a right-aligned number.
func addLineNumbers(content string) string {
	lines := strings.Split(content, "\n")
	width := len(strconv.Itoa(len(lines)))
	var b strings.Builder
	b.Grow(len(content) + len(lines)*(width+3))
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%*d | %s", width, i+1, line)
	}
	return b.String()
}

var (
	testDirs = map[string]bool{
		"test": true, "tests": true, "__tests__": true, "__test__": true,
		"spec": true, "specs": true, "testing": true, "testdata": true,
		"test-data": true, "fixtures": true, "__fixtures__": true,
		"__mocks__": true, "mocks": true, "e2e": true,
	}
	testSuffixes = []string{"_test", ".test", ".spec", "_spec", "_tests", ".stories"}
)

// isTestFile reports whether a slash-separated relative path is test code.
func isTestFile(rel string) bool {
	dir, name := path.Split(rel)
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if testDirs[strings.ToLower(part)] {
			return true
		}
	}

	base := strings.TrimSuffix(name, path.Ext(name))
	lower := strings.ToLower(base)
	for _, s := range testSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	if strings.HasPrefix(lower, "test_") {
		return true
	}
	// CamelCase conventions: FooTest, FooTests, TestFoo.
	if strings.HasSuffix(base, "Test") || strings.HasSuffix(base, "Tests") {
		return len(base) > 4
	}
	if strings.HasPrefix(base, "Test") && len(base) > 4 && unicode.IsUpper(rune(base[4])) {
		return true
	}
	return false
}

// transform applies the content options in a fixed order.
func transform(content, rel string, strip, trim, collapse bool) string {
	if strip {
		content = stripComments(content, rel)
	}
	if trim {
		content = trimTrailingWhitespace(content)
	}
	if collapse {
		content = collapseEmptyLines(content)
	}
	return content
}
