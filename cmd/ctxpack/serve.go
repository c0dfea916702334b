package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ctxhttp "github.com/fyrsmithlabs/ctxpack/internal/http"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host        string
		port        int
		noWorkspace bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API until interrupted.

/api/v1/contexts builds and serves contexts; other ctxpack processes can
point --remote at it. /api/v1/workspace drives the selection of the
project, which is watched for changes. Prometheus metrics are at /metrics.

Examples:
  ctxpack serve
  ctxpack serve --port 9000 --no-workspace`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, root, func(a *app) error {
				if host != "" {
					a.cfg.Server.Host = host
				}
				if port != 0 {
					a.cfg.Server.Port = port
				}
				return runServe(ctx, a, !noWorkspace)
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&noWorkspace, "no-workspace", false, "serve only the contexts API")
	return cmd
}

// runServe blocks until ctx ends, then shuts the server down gracefully.
func runServe(ctx context.Context, a *app, withWorkspace bool) error {
	z := a.log.Underlying()
	opts := []ctxhttp.Option{
		ctxhttp.WithTelemetry(a.tel),
		ctxhttp.WithVersion(version),
	}
	if withWorkspace {
		ws, err := a.openWorkspace(ctx, true)
		if err != nil {
			return err
		}
		if err := ws.Start(ctx); err != nil {
			return fmt.Errorf("start workspace: %w", err)
		}
		opts = append(opts, ctxhttp.WithWorkspace(ws))
	}
	if a.local != nil {
		a.local.Start(ctx)
	}

	srv, err := ctxhttp.NewServer(a.backend, z.Named("http"), ctxhttp.Config{
		Host:      a.cfg.Server.Host,
		Port:      a.cfg.Server.Port,
		RateLimit: a.cfg.Server.RateLimit,
		RateBurst: a.cfg.Server.RateBurst,
	}, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	a.log.Info(ctx, "ctxpack serving",
		zap.String("addr", srv.Addr()),
		zap.String("project", a.root),
		zap.Bool("workspace", withWorkspace),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
