package filetree

// CollectLeavesUnder returns the paths of all non-ignored files under node in
// display order. Ignored directories are not descended into. A non-ignored
// file node yields itself.
func CollectLeavesUnder(node *FileNode) []string {
	if node == nil || node.IsIgnored() {
		return nil
	}
	if !node.IsDir {
		return []string{node.Path}
	}

	var leaves []string
	stack := []*FileNode{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || n.IsIgnored() {
			continue
		}
		if !n.IsDir {
			leaves = append(leaves, n.Path)
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return leaves
}

// Row is one visible line of a flattened tree.
type Row struct {
	Node   *FileNode
	Depth  int
	IsLast bool
	// AncestorHasMoreSiblings[i] is true when the ancestor at depth i has
	// siblings after it, i.e. a vertical guide is drawn in column i.
	AncestorHasMoreSiblings []bool
}

// FlattenForDisplay lists the nodes visible under the given expansion state.
// Children of a directory appear only when expanded reports true for it, so
// the result size is bounded by what is open rather than by the tree size.
func FlattenForDisplay(roots []*FileNode, expanded func(path string) bool) []Row {
	type frame struct {
		node      *FileNode
		depth     int
		isLast    bool
		ancestors []bool
	}

	var rows []Row
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i], isLast: i == len(roots)-1})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == nil {
			continue
		}
		rows = append(rows, Row{
			Node:                    f.node,
			Depth:                   f.depth,
			IsLast:                  f.isLast,
			AncestorHasMoreSiblings: f.ancestors,
		})

		if !f.node.IsDir || len(f.node.Children) == 0 || expanded == nil || !expanded(f.node.Path) {
			continue
		}
		childAncestors := make([]bool, len(f.ancestors)+1)
		copy(childAncestors, f.ancestors)
		childAncestors[len(f.ancestors)] = !f.isLast

		kids := f.node.Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:      kids[i],
				depth:     f.depth + 1,
				isLast:    i == len(kids)-1,
				ancestors: childAncestors,
			})
		}
	}
	return rows
}
