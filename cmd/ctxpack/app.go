package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/backend/local"
	"github.com/fyrsmithlabs/ctxpack/internal/config"
	"github.com/fyrsmithlabs/ctxpack/internal/history"
	ctxhttp "github.com/fyrsmithlabs/ctxpack/internal/http"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/scanner"
	"github.com/fyrsmithlabs/ctxpack/internal/signals"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
	"github.com/fyrsmithlabs/ctxpack/internal/tokens"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

const shutdownTimeout = 5 * time.Second

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	root    string
	log     *logging.Logger
	tel     *telemetry.Telemetry
	bus     *signals.Bus
	tokens  *tokens.Tokenizer
	backend backend.Backend
	// local is nil when contexts are built on a remote server.
	local   *local.Service
	history *history.Store
	nats    *signals.NATSPublisher
	ws      *workspace.Workspace
}

// newApp loads configuration and wires logging, telemetry, signals and the
// context backend for the project in opts.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.remote != "" {
		cfg.Server.RemoteURL = opts.remote
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	root, err := filepath.Abs(opts.project)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project %s is not a directory", root)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		root:   root,
		log:    logger,
		tel:    tel,
		bus:    signals.NewBus(),
		tokens: tokens.New(cfg.Tokens),
	}
	z := logger.Underlying()
	a.bus.Subscribe(signals.LogSink(z.Named("signals")))

	if cfg.Signals.NATSURL != "" {
		pub, err := signals.ConnectNATS(cfg.Signals, root, z.Named("nats"))
		if err != nil {
			logger.Warn(ctx, "signal publishing disabled", zap.Error(err))
		} else {
			a.nats = pub
			a.bus.Subscribe(pub.Handle)
		}
	}

	if err := a.initBackend(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initBackend() error {
	z := a.log.Underlying()
	if url := a.cfg.Server.RemoteURL; url != "" {
		c, err := ctxhttp.NewClient(url,
			ctxhttp.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
			ctxhttp.WithClientLogger(z.Named("client")),
		)
		if err != nil {
			return fmt.Errorf("failed to create remote client: %w", err)
		}
		a.backend = c
		return nil
	}
	svc, err := local.New(a.cfg.Backend,
		local.WithLogger(z.Named("backend")),
		local.WithEstimator(a.tokens),
		local.WithSecrets(a.cfg.Secrets),
	)
	if err != nil {
		return fmt.Errorf("failed to create context store: %w", err)
	}
	a.local = svc
	a.backend = svc
	return nil
}

// openWorkspace scans the project and restores its saved selection. With
// watch set, the tree refreshes on filesystem changes once Start is called.
func (a *app) openWorkspace(ctx context.Context, watch bool) (*workspace.Workspace, error) {
	z := a.log.Underlying()

	sc, err := scanner.New(a.cfg.Scanner, scanner.WithLogger(z.Named("scanner")))
	if err != nil {
		return nil, err
	}

	if a.history == nil {
		h, err := history.Open(a.cfg.History, history.WithLogger(z.Named("history")))
		if err != nil {
			a.log.Warn(ctx, "selection history disabled", zap.Error(err))
		} else {
			a.history = h
		}
	}

	wcfg := workspace.Config{
		Selection:   a.cfg.Selection,
		Assembly:    a.cfg.Assembly,
		Guard:       a.cfg.Guard,
		Watcher:     a.cfg.Watcher.Config,
		LoadOptions: a.cfg.Scanner.LoadOptions(),
		Watch:       watch && a.cfg.Watcher.Enabled,
	}
	wopts := []workspace.Option{
		workspace.WithLogger(z),
		workspace.WithEmitter(a.bus),
		workspace.WithEstimator(a.tokens),
		workspace.WithMeter(a.tel.Meter("github.com/fyrsmithlabs/ctxpack/internal/assembly")),
		workspace.WithHeapSampler(assembly.RuntimeHeap{}),
	}
	// A nil *history.Store must not become a non-nil History.
	if a.history != nil {
		wopts = append(wopts, workspace.WithHistory(a.history))
	}

	ws, err := workspace.Open(ctx, a.root, wcfg, sc, a.backend, wopts...)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	a.ws = ws
	return ws, nil
}

// Close releases everything newApp and openWorkspace created, in reverse
// order.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.ws != nil {
		errs = append(errs, a.ws.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		a.log.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.log.Sync()
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withWorkspace is withApp plus an open workspace.
func withWorkspace(ctx context.Context, opts *rootOptions, watch bool, fn func(*app, *workspace.Workspace) error) error {
	return withApp(ctx, opts, func(a *app) error {
		ws, err := a.openWorkspace(ctx, watch)
		if err != nil {
			return err
		}
		return fn(a, ws)
	})
}
