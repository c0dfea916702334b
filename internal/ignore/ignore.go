// Package ignore compiles the custom ignore rules applied on top of
// .gitignore when a project tree is scanned.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultFile is the per-project custom ignore file.
const DefaultFile = ".ctxpackignore"

// Parser reads gitignore-style rule files from a project root.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject reads every configured ignore file in projectRoot and returns
// the combined rule lines. If none exist, the fallback patterns are returned.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		path := filepath.Join(projectRoot, ignoreFile)
		filePatterns, err := p.parseFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return append([]string(nil), p.FallbackPatterns...), nil
	}
	return deduplicate(patterns), nil
}

// ReadFile returns the rule lines of one gitignore-style file.
func ReadFile(path string) ([]string, error) {
	return (&Parser{}).parseFile(path)
}

func (p *Parser) parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns the rule on line, or "" for blanks and comments.
// Negations are kept; the matcher honours them.
func parseLine(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher tests project-relative paths against compiled rules.
// The zero value and a nil *Matcher match nothing.
type Matcher struct {
	rules    *gitignore.GitIgnore
	patterns []string
}

// Compile builds a Matcher from rule lines.
func Compile(patterns []string) *Matcher {
	var lines []string
	for _, p := range patterns {
		if p = parseLine(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return &Matcher{}
	}
	return &Matcher{rules: gitignore.CompileIgnoreLines(lines...), patterns: lines}
}

// Load reads the custom ignore file from projectRoot and compiles it with
// extra. A missing file is not an error.
func Load(projectRoot, fileName string, extra []string) (*Matcher, error) {
	if fileName == "" {
		fileName = DefaultFile
	}
	patterns, err := NewParser([]string{fileName}, nil).ParseProject(projectRoot)
	if err != nil {
		return nil, err
	}
	return Compile(append(patterns, extra...)), nil
}

// Match reports whether relPath (slash separated) is ignored. Directory
// rules such as "build/" only match when isDir is set.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m == nil || m.rules == nil {
		return false
	}
	relPath = filepath.ToSlash(relPath)
	if isDir {
		return m.rules.MatchesPath(strings.TrimSuffix(relPath, "/") + "/")
	}
	return m.rules.MatchesPath(relPath)
}

// Patterns returns the compiled rule lines.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
