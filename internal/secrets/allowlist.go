package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is read from the project root when present.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds path and content patterns that are never redacted.
type Allowlist struct {
	Paths   []string
	Regexes []string

	paths   []*regexp.Regexp
	regexes []*regexp.Regexp
}

// LoadAllowlists merges the project's .gitleaks.toml with an optional extra
// file. Missing files are skipped; unparsable ones are errors.
func LoadAllowlists(projectPath, extraPath string) (*Allowlist, error) {
	merged := &Allowlist{}
	var files []string
	if projectPath != "" {
		files = append(files, filepath.Join(projectPath, ProjectAllowlistFile))
	}
	if extraPath != "" {
		files = append(files, extraPath)
	}

	for _, f := range files {
		a, err := loadTOML(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, a.Paths...)
		merged.Regexes = append(merged.Regexes, a.Regexes...)
	}
	if err := merged.compile(); err != nil {
		return nil, err
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}

func (a *Allowlist) compile() error {
	a.paths = a.paths[:0]
	a.regexes = a.regexes[:0]
	for _, p := range a.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: path pattern %q: %v", ErrInvalidRegex, p, err)
		}
		a.paths = append(a.paths, re)
	}
	for _, p := range a.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: content pattern %q: %v", ErrInvalidRegex, p, err)
		}
		a.regexes = append(a.regexes, re)
	}
	return nil
}

// AllowsPath reports whether every secret in path is allowlisted.
func (a *Allowlist) AllowsPath(path string) bool {
	if a == nil || path == "" {
		return false
	}
	slash := filepath.ToSlash(path)
	for _, re := range a.paths {
		if re.MatchString(slash) {
			return true
		}
	}
	return false
}

// AllowsMatch reports whether a matched value is allowlisted.
func (a *Allowlist) AllowsMatch(s string) bool {
	if a == nil {
		return false
	}
	for _, re := range a.regexes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
