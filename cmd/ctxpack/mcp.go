package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/mcp"
	"github.com/fyrsmithlabs/ctxpack/internal/secrets"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the project as MCP tools on stdio",
		Long: `Run an MCP server on stdin/stdout. Tools browse the tree, change the
selection, build contexts and read them back a page at a time. Logs go to
stderr.

Example MCP client configuration:
  {"command": "ctxpack", "args": ["mcp", "-p", "/path/to/project"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withWorkspace(ctx, root, true, func(a *app, ws *workspace.Workspace) error {
				if err := ws.Start(ctx); err != nil {
					return err
				}
				if a.local != nil {
					a.local.Start(ctx)
				}

				z := a.log.Underlying().Named("mcp")
				scrubber, err := secrets.New(a.cfg.Secrets, a.root)
				if err != nil {
					if scrubber == nil {
						return err
					}
					z.Warn("secret scrubbing degraded", zap.Error(err))
				}

				srv, err := mcp.NewServer(&mcp.Config{
					Name:     "ctxpack",
					Version:  version,
					Logger:   z,
					Meter:    a.tel.Meter("github.com/fyrsmithlabs/ctxpack/internal/mcp"),
					Scrubber: scrubber,
				}, ws, a.backend)
				if err != nil {
					return err
				}
				if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}
