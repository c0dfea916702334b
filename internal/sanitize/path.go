// Package sanitize validates paths and identifiers received from clients
// before they reach the filesystem.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation errors.
var (
	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrPathTraversal indicates a path resolves outside the project root.
	ErrPathTraversal = errors.New("path is outside the project")

	// ErrInvalidContextID indicates a context id that is not a plain name.
	ErrInvalidContextID = errors.New("invalid context id")
)

// contextIDPattern matches generated ids (uuids) and other plain names that
// are safe as file names.
var contextIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidatePath resolves path against root and returns the cleaned absolute
// path. Relative paths may use forward slashes on every platform. The result
// is root itself or a path below it; anything else is ErrPathTraversal.
//
// Names that merely contain dots ("a..b") are allowed. Only path elements
// that climb out of root are rejected.
func ValidatePath(path, root string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyPath
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, filepath.FromSlash(p))
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(absRoot, p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	return p, nil
}

// RelPath returns path relative to root with forward slashes. Paths outside
// root are returned unchanged.
func RelPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// ValidateContextID checks that id can name a file inside a context store
// directory without escaping it.
func ValidateContextID(id string) error {
	if !contextIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidContextID, id)
	}
	return nil
}
