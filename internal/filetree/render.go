package filetree

import (
	"path"
	"sort"
	"strings"

	"github.com/xlab/treeprint"
)

// RenderOptions controls RenderTree output.
type RenderOptions struct {
	// RootName labels the root of the printed tree. Defaults to ".".
	RootName string
	// Include filters nodes; nil includes everything.
	Include func(n *FileNode) bool
	// Marker returns a short prefix for a node, e.g. a selection box.
	Marker func(n *FileNode) string
	// ShowIgnored keeps ignored nodes in the output.
	ShowIgnored bool
}

// RenderTree prints roots as an indented tree.
func RenderTree(roots []*FileNode, opts RenderOptions) string {
	rootName := opts.RootName
	if rootName == "" {
		rootName = "."
	}
	tree := treeprint.NewWithRoot(rootName)

	type frame struct {
		node   *FileNode
		parent treeprint.Tree
	}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i], parent: tree})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node
		if n == nil {
			continue
		}
		if n.IsIgnored() && !opts.ShowIgnored {
			continue
		}
		if opts.Include != nil && !opts.Include(n) {
			continue
		}

		label := n.Name
		if opts.Marker != nil {
			if m := opts.Marker(n); m != "" {
				label = m + " " + label
			}
		}

		if !n.IsDir {
			f.parent.AddNode(label)
			continue
		}
		branch := f.parent.AddBranch(label + "/")
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: n.Children[i], parent: branch})
		}
	}

	return tree.String()
}

// RenderPaths prints a tree built from slash-separated relative paths. It is
// used for context manifests, where only the selected files are known.
func RenderPaths(rootName string, relPaths []string) string {
	if rootName == "" {
		rootName = "."
	}
	sorted := make([]string, len(relPaths))
	copy(sorted, relPaths)
	sort.Strings(sorted)

	tree := treeprint.NewWithRoot(rootName)
	branches := map[string]treeprint.Tree{"": tree}

	for _, p := range sorted {
		p = strings.Trim(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
		if p == "" || p == "." {
			continue
		}
		dir, file := path.Split(p)
		dir = strings.TrimSuffix(dir, "/")
		parent := ensureBranch(branches, dir)
		parent.AddNode(file)
	}
	return tree.String()
}

// ensureBranch returns the branch for dir, creating missing ancestors.
func ensureBranch(branches map[string]treeprint.Tree, dir string) treeprint.Tree {
	if b, ok := branches[dir]; ok {
		return b
	}
	parts := strings.Split(dir, "/")
	cur := ""
	parent := branches[""]
	for _, part := range parts {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		b, ok := branches[cur]
		if !ok {
			b = parent.AddBranch(part + "/")
			branches[cur] = b
		}
		parent = b
	}
	return parent
}
