package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/tui"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

func newTUICmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Pick files interactively",
		Long: `Open a terminal file picker over the project. Space toggles, enter
expands, b builds, p previews the built context and ? shows every key.

Logs go to stderr; redirect it when running interactively:
  ctxpack tui 2>ctxpack.log`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bopts, err := opts.backendOptions()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withWorkspace(ctx, root, true, func(_ *app, ws *workspace.Workspace) error {
				if err := ws.Start(ctx); err != nil {
					return err
				}
				return tui.Run(ctx, ws,
					tui.WithBuildOptions(bopts),
					tui.WithHeapSampler(assembly.RuntimeHeap{}),
					tui.WithInterval(interval),
				)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "xml", "output format: xml, markdown, plain or json")
	f.BoolVar(&opts.noManifest, "no-manifest", false, "omit the project tree header")
	f.BoolVar(&opts.lineNumbers, "line-numbers", false, "prefix lines with their number")
	f.BoolVar(&opts.excludeTests, "exclude-tests", false, "skip test files")
	f.BoolVar(&opts.redact, "redact", false, "redact secrets from file contents")
	f.DurationVar(&interval, "interval", time.Second, "refresh interval of the status line")
	return cmd
}
