package filetree

import (
	"path"
	"sort"
	"strings"
)

// NewTestTree builds a tree rooted at root from slash-separated relative file
// paths. Intermediate directories are created as needed and children are
// sorted with directories first. A path prefixed with "!" is marked
// gitignored, one prefixed with "~" is marked binary. Every file gets a size
// of 100 bytes.
func NewTestTree(root string, relPaths ...string) []*FileNode {
	dirs := map[string]*FileNode{}
	var roots []*FileNode

	getDir := func(rel string) *FileNode {
		if d, ok := dirs[rel]; ok {
			return d
		}
		var parent *FileNode
		parts := strings.Split(rel, "/")
		cur := ""
		for _, part := range parts {
			next := part
			if cur != "" {
				next = cur + "/" + part
			}
			d, ok := dirs[next]
			if !ok {
				d = &FileNode{
					Path:    path.Join(root, next),
					RelPath: next,
					Name:    part,
					IsDir:   true,
				}
				if parent != nil {
					d.ParentPath = parent.Path
					parent.Children = append(parent.Children, d)
				} else {
					roots = append(roots, d)
				}
				dirs[next] = d
			}
			parent = d
			cur = next
		}
		return parent
	}

	for _, p := range relPaths {
		ignored := strings.HasPrefix(p, "!")
		binary := strings.HasPrefix(p, "~")
		p = strings.TrimLeft(p, "!~")
		dir, name := path.Split(p)
		dir = strings.TrimSuffix(dir, "/")
		f := &FileNode{
			Path:         path.Join(root, p),
			RelPath:      p,
			Name:         name,
			Size:         100,
			IsGitignored: ignored,
			IsBinary:     binary,
		}
		if dir == "" {
			roots = append(roots, f)
			continue
		}
		d := getDir(dir)
		f.ParentPath = d.Path
		d.Children = append(d.Children, f)
	}

	sortNodes(roots)
	stack := append([]*FileNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sortNodes(n.Children)
		stack = append(stack, n.Children...)
	}
	return roots
}

func sortNodes(nodes []*FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return nodes[i].Name < nodes[j].Name
	})
}
