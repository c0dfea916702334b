package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxpack/internal/history"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List projects with a saved selection",
		Long: `List the projects whose selection and expanded directories are saved.
With --forget, drop the saved state of the current project.

Examples:
  ctxpack history
  ctxpack -p ~/src/app history --forget`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, root, func(a *app) error {
				store, err := history.Open(a.cfg.History, history.WithLogger(a.log.Underlying().Named("history")))
				if err != nil {
					return err
				}
				a.history = store

				out := cmd.OutOrStdout()
				if forget {
					if err := store.Forget(ctx, a.root); err != nil {
						return err
					}
					fmt.Fprintf(out, "forgot %s\n", a.root)
					return nil
				}

				projects, err := store.Projects(ctx)
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Fprintln(out, "No saved projects")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PROJECT\tSELECTED\tEXPANDED\tUPDATED")
				for _, p := range projects {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Path, p.Selected, p.Expanded,
						humanize.RelTime(p.UpdatedAt, time.Now(), "ago", "from now"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "drop the saved state of the current project")
	return cmd
}
