package selection

import (
	"errors"
	"fmt"
	"strings"
)

// Rejection errors.
var (
	ErrIgnored       = errors.New("path is excluded by ignore rules")
	ErrBinary        = errors.New("binary files cannot be selected")
	ErrNotAFile      = errors.New("path is a directory")
	ErrNotADirectory = errors.New("path is not a directory")
)

// Index errors.
var (
	ErrStaleNode   = errors.New("path is not in the current tree")
	ErrInvalidSize = errors.New("capacity must be positive")
)

// StaleNodeError reports a path that is absent from the current index,
// usually because the tree was refreshed after the caller read it.
type StaleNodeError struct {
	Path string
}

func (e *StaleNodeError) Error() string {
	return fmt.Sprintf("stale node %q: not in the current tree", e.Path)
}

// Is matches ErrStaleNode.
func (e *StaleNodeError) Is(target error) bool {
	return target == ErrStaleNode
}

// CapacityWarning is attached to a successful Result when a bounded set
// evicted its oldest entries to make room.
type CapacityWarning struct {
	Set     string
	Ceiling int
	Evicted []string
}

func (w *CapacityWarning) Error() string {
	preview := w.Evicted
	if len(preview) > 3 {
		preview = preview[:3]
	}
	return fmt.Sprintf("%s set reached its limit of %d: evicted %d oldest (%s)",
		w.Set, w.Ceiling, len(w.Evicted), strings.Join(preview, ", "))
}
