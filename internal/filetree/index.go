package filetree

import (
	"fmt"
)

// Index is an immutable lookup snapshot over a loaded tree.
type Index struct {
	roots     []*FileNode
	byPath    map[string]*FileNode
	byRel     map[string]*FileNode
	parent    map[string]string
	eligible  map[string]bool
	leafCount map[string]int
	fileCount int
}

// BuildIndex indexes roots in a single iterative pass.
//
// Parent links are taken from the tree structure itself, not from the
// ParentPath field, so a provider that leaves ParentPath empty still indexes
// correctly.
func BuildIndex(roots []*FileNode) (*Index, error) {
	idx := &Index{
		roots:     roots,
		byPath:    make(map[string]*FileNode),
		byRel:     make(map[string]*FileNode),
		parent:    make(map[string]string),
		eligible:  make(map[string]bool),
		leafCount: make(map[string]int),
	}

	type frame struct {
		node           *FileNode
		parentPath     string
		parentEligible bool
	}

	// Pre-order: every node is recorded before its children.
	order := make([]*FileNode, 0, 64)
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i], parentEligible: true})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node
		if n == nil {
			continue
		}
		if n.Path == "" {
			return nil, fmt.Errorf("%w: node %q", ErrEmptyPath, n.Name)
		}
		if _, dup := idx.byPath[n.Path]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, n.Path)
		}
		idx.byPath[n.Path] = n
		if n.RelPath != "" {
			if _, dup := idx.byRel[n.RelPath]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, n.RelPath)
			}
			idx.byRel[n.RelPath] = n
		}
		if f.parentPath != "" {
			idx.parent[n.Path] = f.parentPath
		}
		ok := f.parentEligible && !n.IsIgnored()
		idx.eligible[n.Path] = ok
		order = append(order, n)

		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: n.Children[i], parentPath: n.Path, parentEligible: ok})
		}
	}

	// Reverse pre-order visits children before parents.
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if !n.IsDir {
			if idx.eligible[n.Path] {
				idx.fileCount++
			}
			continue
		}
		total := 0
		for _, c := range n.Children {
			if c == nil || !idx.eligible[c.Path] {
				continue
			}
			if c.IsDir {
				total += idx.leafCount[c.Path]
			} else {
				total++
			}
		}
		idx.leafCount[n.Path] = total
	}

	return idx, nil
}

// Roots returns the top-level nodes.
func (idx *Index) Roots() []*FileNode {
	return idx.roots
}

// Lookup finds a node by absolute path.
func (idx *Index) Lookup(path string) (*FileNode, bool) {
	n, ok := idx.byPath[path]
	return n, ok
}

// LookupRel finds a node by project-relative path.
func (idx *Index) LookupRel(relPath string) (*FileNode, bool) {
	n, ok := idx.byRel[relPath]
	return n, ok
}

// Contains reports whether path is in the index.
func (idx *Index) Contains(path string) bool {
	_, ok := idx.byPath[path]
	return ok
}

// Parent returns the parent directory path of path.
func (idx *Index) Parent(path string) (string, bool) {
	p, ok := idx.parent[path]
	return p, ok
}

// Ancestors returns the directory paths above path, nearest first.
func (idx *Index) Ancestors(path string) []string {
	var out []string
	cur := path
	for {
		p, ok := idx.parent[cur]
		if !ok {
			return out
		}
		out = append(out, p)
		cur = p
	}
}

// IsEligible reports whether path is a selectable leaf or a directory whose
// ancestors are all unignored.
func (idx *Index) IsEligible(path string) bool {
	return idx.eligible[path]
}

// LeafCount returns the number of eligible leaves under a directory. Files
// report 1 when eligible.
func (idx *Index) LeafCount(path string) int {
	n, ok := idx.byPath[path]
	if !ok {
		return 0
	}
	if !n.IsDir {
		if idx.eligible[path] {
			return 1
		}
		return 0
	}
	return idx.leafCount[path]
}

// Len returns the number of indexed nodes.
func (idx *Index) Len() int {
	return len(idx.byPath)
}

// FileCount returns the number of eligible leaves in the whole tree.
func (idx *Index) FileCount() int {
	return idx.fileCount
}

// Size returns the byte size recorded for path.
func (idx *Index) Size(path string) (int64, bool) {
	n, ok := idx.byPath[path]
	if !ok {
		return 0, false
	}
	return n.Size, true
}

// LeavesUnder returns the eligible leaves under path. Leaves under an
// ignored subtree are never returned.
func (idx *Index) LeavesUnder(path string) []string {
	n, ok := idx.byPath[path]
	if !ok || !idx.eligible[path] {
		return nil
	}
	return CollectLeavesUnder(n)
}
