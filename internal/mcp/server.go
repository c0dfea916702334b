package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/secrets"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

// Server serves one workspace over MCP.
type Server struct {
	mcp       *mcp.Server
	workspace *workspace.Workspace
	backend   backend.Backend
	scrubber  secrets.Scrubber
	registry  *ToolRegistry
	metrics   *Metrics
	logger    *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients.
	Name    string
	Version string
	Logger  *zap.Logger
	// Meter receives tool metrics. Nil uses the global meter provider.
	Meter metric.Meter
	// Scrubber redacts content returned by get_content. Nil disables it.
	Scrubber secrets.Scrubber
}

// DefaultConfig returns a config with a no-op logger.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ctxpack",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over ws. Stored contexts are read through
// b, normally the same backend ws builds with.
func NewServer(cfg *Config, ws *workspace.Workspace, b backend.Backend) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	if b == nil {
		return nil, errors.New("backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scrubber := cfg.Scrubber
	if scrubber == nil {
		scrubber = secrets.Noop{}
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "ctxpack"
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp:       mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		workspace: ws,
		backend:   b,
		scrubber:  scrubber,
		registry:  NewToolRegistry(),
		metrics:   NewMetrics(cfg.Meter, logger),
		logger:    logger,
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Registry returns the metadata of every registered tool.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("project", s.workspace.Root()),
		zap.Int("tools", s.registry.Count()),
	)
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on t. Used for in-process transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
