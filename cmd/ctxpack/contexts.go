package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

func newShowCmd(root *rootOptions) *cobra.Command {
	var (
		start, count int
		summaryOnly  bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "show <context-id>",
		Short: "Print a stored context",
		Long: `Print the content of a stored context. Lines are 0-based; --count 0
prints everything from --start.

Examples:
  ctxpack show 3f2a...
  ctxpack show 3f2a... --start 100 --count 50
  ctxpack show 3f2a... --summary --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			return withApp(ctx, root, func(a *app) error {
				out := cmd.OutOrStdout()
				if summaryOnly {
					sum, err := a.backend.GetContextSummary(ctx, id)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(out, sum)
					}
					printSummary(out, sum)
					return nil
				}

				page := backend.MaxPageLines
				remaining := count
				line := start
				for {
					n := page
					if count > 0 {
						n = min(page, remaining)
					}
					chunk, err := a.backend.GetContextContent(ctx, id, backend.ChunkRequest{StartLine: line, LineCount: n})
					if err != nil {
						return err
					}
					for _, l := range chunk.Lines {
						fmt.Fprintln(out, l)
					}
					line += len(chunk.Lines)
					remaining -= len(chunk.Lines)
					if !chunk.HasMore || len(chunk.Lines) == 0 || (count > 0 && remaining <= 0) {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first line to print (0-based)")
	cmd.Flags().IntVar(&count, "count", 0, "number of lines to print (0 for all)")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print the summary instead of the content")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newListCmd(root *rootOptions) *cobra.Command {
	var (
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored contexts, newest first",
		Long: `List the contexts built for the project, newest first.

Examples:
  ctxpack list
  ctxpack list --all --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, root, func(a *app) error {
				project := a.root
				if all {
					project = ""
				}
				list, err := a.backend.ListContexts(ctx, project)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No contexts found")
					return nil
				}
				printContexts(out, list, all)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list contexts of every project")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printContexts(out io.Writer, list []*backend.ContextSummary, withProject bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "ID\tNAME\tFILES\tTOKENS\tSIZE\tCREATED"
	if withProject {
		header += "\tPROJECT"
	}
	fmt.Fprintln(w, header)
	for _, s := range list {
		row := fmt.Sprintf("%s\t%s\t%d\t%s\t%s\t%s",
			s.ID, truncate(s.Metadata.Name, 40), s.FileCount,
			humanize.Comma(int64(s.TokenCount)), humanize.IBytes(uint64(s.TotalSize)),
			humanize.RelTime(s.CreatedAt, time.Now(), "ago", "from now"))
		if withProject {
			row += "\t" + s.ProjectPath
		}
		fmt.Fprintln(w, row)
	}
	_ = w.Flush()
}

func newRmCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <context-id>...",
		Short: "Delete stored contexts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, root, func(a *app) error {
				for _, id := range args {
					if err := a.backend.DeleteContext(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(r[:maxLen-3]) + "..."
}
