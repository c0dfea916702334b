// Package filetree provides the in-memory model of a project's file hierarchy.
//
// A tree is loaded wholesale by a Provider and indexed once with BuildIndex.
// The resulting Index is an immutable snapshot: refreshing a project builds a
// new Index rather than mutating the old one, so readers never need locks.
//
// # Core Concepts
//
// FileNode: a file or directory. Ignore flags come from the provider and a
// node is ignored when either the gitignore or the custom ignore rules match.
//
// Eligible leaf: a file that is not ignored and has no ignored ancestor. Only
// eligible leaves take part in selection, and every directory's leaf total
// counts eligible leaves only.
//
// # Traversal
//
// Every walk in this package uses an explicit stack. Pathologically deep trees
// cost heap, not goroutine stack.
//
// # Usage
//
//	roots, err := provider.LoadFileTree(ctx, "/path/to/project", filetree.LoadOptions{
//	    UseGitignore:    true,
//	    UseCustomIgnore: true,
//	})
//	if err != nil {
//	    return err
//	}
//	idx, err := filetree.BuildIndex(roots)
//	if err != nil {
//	    return err
//	}
//	rows := filetree.FlattenForDisplay(idx.Roots(), expanded.Contains)
package filetree
