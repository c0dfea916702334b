package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/sanitize"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

type buildOptions struct {
	format       string
	noManifest   bool
	lineNumbers  bool
	stripComment bool
	collapse     bool
	trim         bool
	excludeTests bool
	redact       bool
	maxTokens    int
	print        bool
	output       string
	dryRun       bool
}

func (o *buildOptions) backendOptions() (backend.BuildOptions, error) {
	f := backend.OutputFormat(strings.ToLower(o.format))
	if !f.Valid() {
		return backend.BuildOptions{}, fmt.Errorf("unknown format %q (want xml, markdown, plain or json)", o.format)
	}
	return backend.BuildOptions{
		OutputFormat:       f,
		IncludeManifest:    !o.noManifest,
		IncludeLineNumbers: o.lineNumbers,
		StripComments:      o.stripComment,
		CollapseEmptyLines: o.collapse,
		TrimWhitespace:     o.trim,
		ExcludeTests:       o.excludeTests,
		RedactSecrets:      o.redact,
		MaxTokens:          o.maxTokens,
	}, nil
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build [path...]",
		Short: "Build a context from the selection",
		Long: `Build a context from the given files and directories, relative to the
project root. The paths replace the saved selection. Without paths the
saved selection of the project is built.

Examples:
  # Build two directories as markdown and print the result
  ctxpack build cmd internal/config --format markdown --print

  # Check the saved selection without building
  ctxpack build --dry-run

  # Write the context to a file
  ctxpack build main.go -o context.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bopts, err := opts.backendOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withWorkspace(ctx, root, false, func(_ *app, ws *workspace.Workspace) error {
				if len(args) > 0 {
					if err := selectPaths(ws, args); err != nil {
						return err
					}
				}
				return runBuild(ctx, cmd.OutOrStdout(), ws, bopts, opts)
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", string(backend.FormatXML), "output format: xml, markdown, plain or json")
	f.BoolVar(&opts.noManifest, "no-manifest", false, "omit the project tree header")
	f.BoolVar(&opts.lineNumbers, "line-numbers", false, "prefix lines with their number")
	f.BoolVar(&opts.stripComment, "strip-comments", false, "remove comments by file type")
	f.BoolVar(&opts.collapse, "collapse-empty", false, "collapse runs of empty lines")
	f.BoolVar(&opts.trim, "trim", false, "trim trailing whitespace")
	f.BoolVar(&opts.excludeTests, "exclude-tests", false, "skip test files")
	f.BoolVar(&opts.redact, "redact", false, "redact secrets from file contents")
	f.IntVar(&opts.maxTokens, "max-tokens", 0, "token budget for the built context (0 means the backend limit)")
	f.BoolVar(&opts.print, "print", false, "print the built context to stdout")
	f.StringVarP(&opts.output, "output", "o", "", "write the built context to a file")
	f.BoolVar(&opts.dryRun, "dry-run", false, "validate the selection without building")
	return cmd
}

// selectPaths replaces the selection with args, resolved against the
// project root.
func selectPaths(ws *workspace.Workspace, args []string) error {
	eng := ws.Engine()
	if res := eng.Clear(); res.Err != nil {
		return res.Err
	}
	for _, arg := range args {
		path, err := sanitize.ValidatePath(arg, ws.Root())
		if err != nil {
			return err
		}
		res := eng.SelectRecursive(path)
		if res.Err != nil {
			return fmt.Errorf("select %s: %w", arg, res.Err)
		}
		if res.Warning != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", res.Warning)
		}
	}
	return nil
}

func runBuild(ctx context.Context, out io.Writer, ws *workspace.Workspace, bopts backend.BuildOptions, opts *buildOptions) error {
	v := ws.Validate(ctx)
	for _, w := range v.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if opts.dryRun {
		printValidation(out, ws, v)
		if !v.IsValid {
			return errors.New("selection is not buildable")
		}
		return nil
	}

	sum, err := ws.Build(ctx, bopts)
	if err != nil {
		var ve *assembly.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("cannot build: %s", strings.Join(ve.Result.Errors, "; "))
		}
		return err
	}

	switch {
	case opts.output != "":
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		if err := writeContent(ctx, f, ws.Pipeline()); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", opts.output)
	case opts.print:
		return writeContent(ctx, out, ws.Pipeline())
	}
	printSummary(out, sum)
	return nil
}

func printValidation(out io.Writer, ws *workspace.Workspace, v assembly.ValidationResult) {
	fmt.Fprintf(out, "Files:   %d\n", ws.Engine().SelectedCount())
	fmt.Fprintf(out, "Size:    %s\n", humanize.IBytes(uint64(v.TotalSize)))
	fmt.Fprintf(out, "Tokens:  ~%s of %s\n", humanize.Comma(int64(v.EstimatedTokens)), humanize.Comma(int64(ws.Pipeline().Config().TokenLimit)))
	for _, e := range v.Errors {
		fmt.Fprintf(out, "error:   %s\n", e)
	}
	if v.IsValid {
		fmt.Fprintln(out, "Ready to build")
	}
}

func printSummary(out io.Writer, s *backend.ContextSummary) {
	fmt.Fprintf(out, "Context: %s\n", s.ID)
	if s.Metadata.Name != "" {
		fmt.Fprintf(out, "Name:    %s\n", s.Metadata.Name)
	}
	fmt.Fprintf(out, "Files:   %d\n", s.FileCount)
	fmt.Fprintf(out, "Lines:   %s\n", humanize.Comma(int64(s.LineCount)))
	fmt.Fprintf(out, "Tokens:  %s\n", humanize.Comma(int64(s.TokenCount)))
	fmt.Fprintf(out, "Size:    %s\n", humanize.IBytes(uint64(s.TotalSize)))
	for _, p := range s.Metadata.SkippedFiles {
		fmt.Fprintf(out, "skipped: %s (%s)\n", p, s.Metadata.SkippedReasons[p])
	}
}

// writeContent pages through the current context of p.
func writeContent(ctx context.Context, w io.Writer, p *assembly.Pipeline) error {
	start := 0
	for {
		chunk, err := p.GetContent(ctx, start, p.Config().MaxPageLines)
		if err != nil {
			return err
		}
		for _, l := range chunk.Lines {
			if _, err := io.WriteString(w, l+"\n"); err != nil {
				return err
			}
		}
		start += len(chunk.Lines)
		if !chunk.HasMore || len(chunk.Lines) == 0 {
			return nil
		}
	}
}
