package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

type treeOptions struct {
	all         bool
	showIgnored bool
}

func newTreeCmd(root *rootOptions) *cobra.Command {
	opts := &treeOptions{}
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the project tree with selection markers",
		Long: `Print the project tree. Each node carries its selection state:
[x] selected, [~] partially selected, [ ] not selected, [-] ignored.

Only expanded directories show their children unless --all is given.

Examples:
  ctxpack tree
  ctxpack tree --all --ignored`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorkspace(cmd.Context(), root, false, func(_ *app, ws *workspace.Workspace) error {
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTree(ws, opts))
				eng := ws.Engine()
				fmt.Fprintf(out, "\n%d files, %d selected (%s)\n",
					ws.Index().FileCount(), eng.SelectedCount(), humanize.IBytes(uint64(eng.SelectedSize())))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "show every directory expanded")
	cmd.Flags().BoolVar(&opts.showIgnored, "ignored", false, "include ignored files")
	return cmd
}

func renderTree(ws *workspace.Workspace, opts *treeOptions) string {
	eng := ws.Engine()
	idx := ws.Index()
	return filetree.RenderTree(idx.Roots(), filetree.RenderOptions{
		RootName:    filepath.Base(ws.Root()),
		ShowIgnored: opts.showIgnored,
		Include: func(n *filetree.FileNode) bool {
			if opts.all {
				return true
			}
			parent, ok := idx.Parent(n.Path)
			return !ok || parent == ws.Root() || eng.IsExpanded(parent)
		},
		Marker: func(n *filetree.FileNode) string {
			if n.IsIgnored() {
				return "[-]"
			}
			switch eng.State(n.Path) {
			case selection.Full:
				return "[x]"
			case selection.Partial:
				return "[~]"
			}
			return "[ ]"
		},
	})
}
