// Package main implements the ctxpack CLI.
//
// Every command opens the project given by --project (default: the current
// directory) and talks to the local context store, or to a running
// `ctxpack serve` when --remote or server.remote_url is set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	project    string
	remote     string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ctxpack",
		Short: "Select project files and pack them into an LLM context",
		Long: `ctxpack browses a project's file tree, keeps a tri-state selection of
files and directories, and assembles the selected files into a paged
context that can be read back a chunk at a time.

Examples:
  # Show the project tree with selection markers
  ctxpack tree

  # Build a context from two paths and print it
  ctxpack build cmd/ internal/config --format markdown --print

  # Serve the HTTP API, or the MCP tools on stdio
  ctxpack serve
  ctxpack mcp`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/ctxpack/config.yaml)")
	pf.StringVarP(&opts.project, "project", "p", ".", "project directory")
	pf.StringVar(&opts.remote, "remote", "", "URL of a running ctxpack server to build contexts on")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	cmd.AddCommand(
		newTreeCmd(opts),
		newBuildCmd(opts),
		newShowCmd(opts),
		newListCmd(opts),
		newRmCmd(opts),
		newHistoryCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newTUICmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ctxpack by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
