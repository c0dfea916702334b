package filetree

import (
	"context"
	"errors"
)

// Index construction errors.
var (
	ErrDuplicatePath = errors.New("duplicate node path")
	ErrEmptyPath     = errors.New("node path is required")
)

// FileNode is a single file or directory in a project tree.
type FileNode struct {
	Path            string      `json:"path"`
	RelPath         string      `json:"relPath"`
	Name            string      `json:"name"`
	IsDir           bool        `json:"isDir"`
	Size            int64       `json:"size"`
	ParentPath      string      `json:"parentPath,omitempty"`
	Children        []*FileNode `json:"children,omitempty"`
	IsGitignored    bool        `json:"isGitignored"`
	IsCustomIgnored bool        `json:"isCustomIgnored"`
	IsBinary        bool        `json:"isBinary,omitempty"`
}

// IsIgnored reports whether any ignore rule excludes the node.
func (n *FileNode) IsIgnored() bool {
	return n.IsGitignored || n.IsCustomIgnored
}

// IsLeaf reports whether the node is a file.
func (n *FileNode) IsLeaf() bool {
	return !n.IsDir
}

// LoadOptions controls which ignore rule sets a Provider applies.
type LoadOptions struct {
	UseGitignore    bool `json:"useGitignore"`
	UseCustomIgnore bool `json:"useCustomIgnore"`
}

// Provider loads a project's file tree.
type Provider interface {
	// LoadFileTree returns the top-level nodes of the project. Directories
	// carry their children; the tree is replaced wholesale on every call.
	LoadFileTree(ctx context.Context, projectPath string, opts LoadOptions) ([]*FileNode, error)
}
