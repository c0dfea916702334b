package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/sanitize"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
)

var errInvalidArgument = errors.New("invalid argument")

// addTool registers meta and its handler. The handler returns the text shown
// to the client along with the structured output.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h func(context.Context, In) (string, Out, error)) error {
	if err := s.registry.Register(meta); err != nil {
		return err
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        meta.Name,
		Description: meta.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.track(ctx, meta.Name)
		text, out, err := h(ctx, in)
		done(err)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", meta.Name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})
	return nil
}

func (s *Server) registerTools() error {
	for _, register := range []func() error{
		s.registerTreeTools,
		s.registerSelectionTools,
		s.registerAssemblyTools,
		s.registerContextTools,
		s.registerSearchTools,
	} {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

// resolvePath accepts a path relative to the project root or an absolute
// path inside it.
func (s *Server) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path is required", errInvalidArgument)
	}
	abs, err := sanitize.ValidatePath(p, s.workspace.Root())
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidArgument, err)
	}
	return abs, nil
}

func (s *Server) relPath(p string) string {
	return sanitize.RelPath(s.workspace.Root(), p)
}

// ===== TREE TOOLS =====

type treeInput struct {
	All         bool `json:"all,omitempty" jsonschema:"Show every node instead of only expanded directories"`
	ShowIgnored bool `json:"show_ignored,omitempty" jsonschema:"Include files excluded by ignore rules"`
}

type treeOutput struct {
	Tree          string `json:"tree" jsonschema:"Rendered tree; [x] selected, [~] partially selected, [ ] not selected"`
	FileCount     int    `json:"file_count" jsonschema:"Number of selectable files in the project"`
	SelectedCount int    `json:"selected_count" jsonschema:"Number of selected files"`
}

type emptyInput struct{}

type refreshOutput struct {
	Dropped   []string `json:"dropped" jsonschema:"Selected paths that no longer exist and were dropped"`
	FileCount int      `json:"file_count" jsonschema:"Number of selectable files after the reload"`
}

func stateMarker(st selection.State) string {
	switch st {
	case selection.Full:
		return "[x]"
	case selection.Partial:
		return "[~]"
	}
	return "[ ]"
}

func (s *Server) registerTreeTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "tree",
		Description: "Show the project file tree with selection state. Only expanded directories are opened unless all is set.",
		Category:    CategoryTree,
		Keywords:    []string{"files", "list", "browse"},
	}, func(ctx context.Context, in treeInput) (string, treeOutput, error) {
		eng := s.workspace.Engine()
		idx := eng.Index()
		out := treeOutput{FileCount: idx.FileCount(), SelectedCount: eng.SelectedCount()}
		out.Tree = filetree.RenderTree(idx.Roots(), filetree.RenderOptions{
			RootName:    filepath.Base(s.workspace.Root()),
			ShowIgnored: in.ShowIgnored,
			Include: func(n *filetree.FileNode) bool {
				if in.All {
					return true
				}
				parent, ok := idx.Parent(n.Path)
				return !ok || eng.IsExpanded(parent)
			},
			Marker: func(n *filetree.FileNode) string {
				if n.IsIgnored() {
					return "[-]"
				}
				return stateMarker(eng.State(n.Path))
			},
		})
		return out.Tree, out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "refresh",
		Description: "Rescan the project from disk. Selected files that disappeared are dropped.",
		Category:    CategoryTree,
		Keywords:    []string{"reload", "rescan"},
	}, func(ctx context.Context, _ emptyInput) (string, refreshOutput, error) {
		dropped, err := s.workspace.Refresh(ctx)
		if err != nil {
			return "", refreshOutput{}, err
		}
		out := refreshOutput{Dropped: make([]string, 0, len(dropped)), FileCount: s.workspace.Index().FileCount()}
		for _, p := range dropped {
			out.Dropped = append(out.Dropped, s.relPath(p))
		}
		return fmt.Sprintf("Rescanned %d files, dropped %d selected", out.FileCount, len(out.Dropped)), out, nil
	})
}

// ===== SELECTION TOOLS =====

type selectInput struct {
	Path   string `json:"path,omitempty" jsonschema:"File or directory, relative to the project root. Not needed for clear."`
	Action string `json:"action,omitempty" jsonschema:"toggle (default), select, deselect or clear. select and deselect recurse into directories."`
}

type selectOutput struct {
	AffectedCount int      `json:"affected_count" jsonschema:"Number of paths added or removed"`
	SelectedCount int      `json:"selected_count" jsonschema:"Number of selected files after the change"`
	Warning       string   `json:"warning,omitempty" jsonschema:"Set when older selections were evicted to stay within the limit"`
	Evicted       []string `json:"evicted,omitempty" jsonschema:"Paths evicted by the limit"`
}

type expandInput struct {
	Path string `json:"path" jsonschema:"Directory to expand or collapse, relative to the project root"`
}

type expandOutput struct {
	Expanded bool `json:"expanded" jsonschema:"Whether the directory is expanded after the call"`
}

type selectionOutput struct {
	Selected        []string `json:"selected" jsonschema:"Selected files relative to the project root, oldest first"`
	Count           int      `json:"count" jsonschema:"Number of selected files"`
	SizeBytes       int64    `json:"size_bytes" jsonschema:"Total size of the selected files"`
	EstimatedTokens int      `json:"estimated_tokens" jsonschema:"Estimated token count of the selection"`
	IsValid         bool     `json:"is_valid" jsonschema:"Whether a build would be attempted"`
	Errors          []string `json:"errors,omitempty" jsonschema:"Reasons the selection cannot be built"`
	Warnings        []string `json:"warnings,omitempty" jsonschema:"Non-fatal validation warnings"`
}

func (s *Server) applySelection(in selectInput) (selection.Result, error) {
	eng := s.workspace.Engine()
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action == "clear" {
		return eng.Clear(), nil
	}
	path, err := s.resolvePath(in.Path)
	if err != nil {
		return selection.Result{}, err
	}
	switch action {
	case "", "toggle":
		if n, ok := eng.Index().Lookup(path); ok && n.IsDir {
			return eng.ToggleDirectory(path), nil
		}
		return eng.ToggleLeaf(path), nil
	case "select":
		return eng.SelectRecursive(path), nil
	case "deselect":
		return eng.DeselectRecursive(path), nil
	}
	return selection.Result{}, fmt.Errorf("%w: unknown action %q", errInvalidArgument, in.Action)
}

func (s *Server) registerSelectionTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "select",
		Description: "Change the file selection: toggle, select or deselect a file or directory, or clear everything.",
		Category:    CategorySelection,
		Keywords:    []string{"toggle", "deselect", "clear", "pick"},
	}, func(ctx context.Context, in selectInput) (string, selectOutput, error) {
		res, err := s.applySelection(in)
		if err != nil {
			return "", selectOutput{}, err
		}
		if res.Err != nil {
			return "", selectOutput{}, res.Err
		}
		out := selectOutput{AffectedCount: res.AffectedCount, SelectedCount: s.workspace.Engine().SelectedCount()}
		text := fmt.Sprintf("%d path(s) changed, %d selected", out.AffectedCount, out.SelectedCount)
		if w := res.Warning; w != nil {
			out.Warning = w.Error()
			for _, p := range w.Evicted {
				out.Evicted = append(out.Evicted, s.relPath(p))
			}
			text += "\nwarning: " + out.Warning
		}
		return text, out, nil
	})
	if err != nil {
		return err
	}

	err = addTool(s, &ToolMetadata{
		Name:        "expand",
		Description: "Expand or collapse a directory in the tree view.",
		Category:    CategorySelection,
		Keywords:    []string{"collapse", "open", "fold"},
	}, func(ctx context.Context, in expandInput) (string, expandOutput, error) {
		path, err := s.resolvePath(in.Path)
		if err != nil {
			return "", expandOutput{}, err
		}
		eng := s.workspace.Engine()
		if res := eng.ToggleExpanded(path); res.Err != nil {
			return "", expandOutput{}, res.Err
		}
		out := expandOutput{Expanded: eng.IsExpanded(path)}
		verb := "collapsed"
		if out.Expanded {
			verb = "expanded"
		}
		return fmt.Sprintf("%s %s", s.relPath(path), verb), out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "selection",
		Description: "Show the selected files with their total size, estimated tokens and validation result.",
		Category:    CategorySelection,
		Keywords:    []string{"selected", "validate", "tokens", "size"},
	}, func(ctx context.Context, _ emptyInput) (string, selectionOutput, error) {
		eng := s.workspace.Engine()
		paths := eng.SelectedPaths()
		res := s.workspace.Validate(ctx)
		out := selectionOutput{
			Selected:        make([]string, 0, len(paths)),
			Count:           len(paths),
			SizeBytes:       eng.SelectedSize(),
			EstimatedTokens: res.EstimatedTokens,
			IsValid:         res.IsValid,
			Errors:          res.Errors,
			Warnings:        res.Warnings,
		}
		for _, p := range paths {
			out.Selected = append(out.Selected, s.relPath(p))
		}
		text := fmt.Sprintf("%d file(s), %s, ~%s tokens", out.Count,
			humanize.IBytes(uint64(out.SizeBytes)), humanize.Comma(int64(out.EstimatedTokens)))
		if len(out.Selected) > 0 {
			text += "\n" + strings.Join(out.Selected, "\n")
		}
		for _, e := range out.Errors {
			text += "\nerror: " + e
		}
		return text, out, nil
	})
}

// ===== ASSEMBLY TOOLS =====

type buildInput struct {
	Format             string `json:"format,omitempty" jsonschema:"Output format: xml (default), markdown, plain or json"`
	IncludeManifest    *bool  `json:"include_manifest,omitempty" jsonschema:"Prepend a tree of the included files (default true)"`
	IncludeLineNumbers bool   `json:"include_line_numbers,omitempty" jsonschema:"Prefix every content line with its number"`
	StripComments      bool   `json:"strip_comments,omitempty" jsonschema:"Remove comments from source files"`
	CollapseEmptyLines bool   `json:"collapse_empty_lines,omitempty" jsonschema:"Collapse runs of blank lines"`
	ExcludeTests       bool   `json:"exclude_tests,omitempty" jsonschema:"Skip test files"`
	RedactSecrets      bool   `json:"redact_secrets,omitempty" jsonschema:"Replace detected secrets with markers"`
	MaxTokens          int    `json:"max_tokens,omitempty" jsonschema:"Stop adding files past this many tokens"`
}

func (in buildInput) options() (backend.BuildOptions, error) {
	opts := backend.DefaultBuildOptions()
	if in.Format != "" {
		opts.OutputFormat = backend.OutputFormat(strings.ToLower(in.Format))
		if !opts.OutputFormat.Valid() {
			return opts, fmt.Errorf("%w: unknown format %q", errInvalidArgument, in.Format)
		}
	}
	if in.IncludeManifest != nil {
		opts.IncludeManifest = *in.IncludeManifest
	}
	opts.IncludeLineNumbers = in.IncludeLineNumbers
	opts.StripComments = in.StripComments
	opts.CollapseEmptyLines = in.CollapseEmptyLines
	opts.ExcludeTests = in.ExcludeTests
	opts.RedactSecrets = in.RedactSecrets
	opts.MaxTokens = in.MaxTokens
	return opts, nil
}

type buildOutput struct {
	ContextID  string   `json:"context_id" jsonschema:"Identifier of the built context"`
	FileCount  int      `json:"file_count" jsonschema:"Number of files included"`
	LineCount  int      `json:"line_count" jsonschema:"Number of lines in the rendered context"`
	TokenCount int      `json:"token_count" jsonschema:"Token count of the rendered context"`
	TotalSize  int64    `json:"total_size" jsonschema:"Size of the rendered context in bytes"`
	Warnings   []string `json:"warnings,omitempty" jsonschema:"Files skipped or truncated during the build"`
}

type contentInput struct {
	StartLine int `json:"start_line,omitempty" jsonschema:"First line to return, 0-based"`
	LineCount int `json:"line_count,omitempty" jsonschema:"Number of lines to return; defaults to one page"`
}

type contentOutput struct {
	ContextID  string `json:"context_id" jsonschema:"Context the lines belong to"`
	StartLine  int    `json:"start_line" jsonschema:"First returned line, 0-based"`
	LineCount  int    `json:"line_count" jsonschema:"Number of returned lines"`
	TotalLines int    `json:"total_lines" jsonschema:"Total lines in the context"`
	HasMore    bool   `json:"has_more" jsonschema:"Whether lines remain after this page"`
	Content    string `json:"content" jsonschema:"The requested lines"`
}

type statusOutput struct {
	Project    string            `json:"project" jsonschema:"Project root"`
	Status     string            `json:"status" jsonschema:"Pipeline state: idle, validating, building, streaming, ready or error"`
	Building   bool              `json:"building" jsonschema:"Whether a build is in flight"`
	ContextID  string            `json:"context_id,omitempty" jsonschema:"Current context, if one has been built"`
	Metrics    *assembly.Metrics `json:"metrics,omitempty" jsonschema:"Metrics of the last build"`
	LastError  string            `json:"last_error,omitempty" jsonschema:"Error of the last failed build"`
	GuardAlive bool              `json:"guard_running" jsonschema:"Whether the memory guard is monitoring"`
}

func (s *Server) registerAssemblyTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "build",
		Description: "Build a context from the current selection. Fails with the validation errors when the selection cannot be built.",
		Category:    CategoryAssembly,
		Keywords:    []string{"assemble", "generate", "pack", "context"},
	}, func(ctx context.Context, in buildInput) (string, buildOutput, error) {
		opts, err := in.options()
		if err != nil {
			return "", buildOutput{}, err
		}
		start := time.Now()
		sum, err := s.workspace.Build(ctx, opts)
		if err != nil {
			return "", buildOutput{}, err
		}
		out := buildOutput{
			ContextID:  sum.ID,
			FileCount:  sum.FileCount,
			LineCount:  sum.LineCount,
			TokenCount: sum.TokenCount,
			TotalSize:  sum.TotalSize,
			Warnings:   sum.Metadata.Warnings,
		}
		text := fmt.Sprintf("Built context %s: %d files, %s lines, ~%s tokens, %s in %s",
			out.ContextID, out.FileCount, humanize.Comma(int64(out.LineCount)),
			humanize.Comma(int64(out.TokenCount)), humanize.IBytes(uint64(out.TotalSize)),
			time.Since(start).Round(time.Millisecond))
		return text, out, nil
	})
	if err != nil {
		return err
	}

	err = addTool(s, &ToolMetadata{
		Name:        "get_content",
		Description: "Read a page of lines from the current context. Page with start_line until has_more is false.",
		Category:    CategoryAssembly,
		Keywords:    []string{"read", "page", "lines", "chunk"},
	}, func(ctx context.Context, in contentInput) (string, contentOutput, error) {
		if in.StartLine < 0 || in.LineCount < 0 {
			return "", contentOutput{}, fmt.Errorf("%w: start_line and line_count must not be negative", errInvalidArgument)
		}
		chunk, err := s.workspace.Pipeline().GetContent(ctx, in.StartLine, in.LineCount)
		if err != nil {
			return "", contentOutput{}, err
		}
		text := chunk.Text()
		if s.scrubber.IsEnabled() {
			text = s.scrubber.Scrub("", text).Scrubbed
		}
		out := contentOutput{
			ContextID:  chunk.ContextID,
			StartLine:  chunk.StartLine,
			LineCount:  chunk.LineCount,
			TotalLines: chunk.TotalLines,
			HasMore:    chunk.HasMore,
			Content:    text,
		}
		return text, out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "status",
		Description: "Show the assembly pipeline state and the metrics of the last build.",
		Category:    CategoryAssembly,
		Keywords:    []string{"state", "progress", "metrics", "health"},
	}, func(ctx context.Context, _ emptyInput) (string, statusOutput, error) {
		p := s.workspace.Pipeline()
		out := statusOutput{
			Project:    s.workspace.Root(),
			Status:     string(p.Status()),
			Building:   p.IsBuilding(),
			GuardAlive: s.workspace.Guard().IsRunning(),
		}
		if cur := p.Current(); cur != nil {
			out.ContextID = cur.ID
			m := p.Metrics()
			out.Metrics = &m
		}
		if err := p.LastError(); err != nil {
			out.LastError = err.Error()
		}
		text := "pipeline " + out.Status
		if out.ContextID != "" {
			text += ", context " + out.ContextID
		}
		return text, out, nil
	})
}

// ===== CONTEXT TOOLS =====

type listContextsInput struct {
	ProjectPath string `json:"project_path,omitempty" jsonschema:"Only list contexts of this project; defaults to the open project. Use * for all."`
}

type contextInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FileCount int       `json:"file_count"`
	LineCount int       `json:"line_count"`
	Tokens    int       `json:"token_count"`
	CreatedAt time.Time `json:"created_at"`
}

type listContextsOutput struct {
	Contexts []contextInfo `json:"contexts" jsonschema:"Stored contexts, newest first"`
	Count    int           `json:"count" jsonschema:"Number of contexts"`
}

type deleteContextInput struct {
	ContextID string `json:"context_id" jsonschema:"Identifier of the context to delete"`
}

type deleteContextOutput struct {
	Deleted string `json:"deleted" jsonschema:"Identifier of the deleted context"`
}

func (s *Server) registerContextTools() error {
	err := addTool(s, &ToolMetadata{
		Name:        "list_contexts",
		Description: "List stored contexts for the open project or for every project.",
		Category:    CategoryContexts,
		Keywords:    []string{"history", "stored", "previous"},
	}, func(ctx context.Context, in listContextsInput) (string, listContextsOutput, error) {
		project := in.ProjectPath
		switch project {
		case "":
			project = s.workspace.Root()
		case "*":
			project = ""
		}
		list, err := s.backend.ListContexts(ctx, project)
		if err != nil {
			return "", listContextsOutput{}, err
		}
		out := listContextsOutput{Contexts: make([]contextInfo, 0, len(list)), Count: len(list)}
		lines := make([]string, 0, len(list))
		for _, c := range list {
			out.Contexts = append(out.Contexts, contextInfo{
				ID:        c.ID,
				Name:      c.Metadata.Name,
				FileCount: c.FileCount,
				LineCount: c.LineCount,
				Tokens:    c.TokenCount,
				CreatedAt: c.CreatedAt,
			})
			lines = append(lines, fmt.Sprintf("%s  %d files  %s", c.ID, c.FileCount, humanize.Time(c.CreatedAt)))
		}
		if len(lines) == 0 {
			return "No contexts", out, nil
		}
		return strings.Join(lines, "\n"), out, nil
	})
	if err != nil {
		return err
	}

	return addTool(s, &ToolMetadata{
		Name:        "delete_context",
		Description: "Delete a stored context. Deleting the current context resets the pipeline.",
		Category:    CategoryContexts,
		Keywords:    []string{"remove", "rm", "cleanup"},
	}, func(ctx context.Context, in deleteContextInput) (string, deleteContextOutput, error) {
		if in.ContextID == "" {
			return "", deleteContextOutput{}, fmt.Errorf("%w: context_id is required", errInvalidArgument)
		}
		p := s.workspace.Pipeline()
		if cur := p.Current(); cur != nil && cur.ID == in.ContextID {
			p.Reset(ctx)
		} else if err := s.backend.DeleteContext(ctx, in.ContextID); err != nil {
			return "", deleteContextOutput{}, err
		}
		return "Deleted " + in.ContextID, deleteContextOutput{Deleted: in.ContextID}, nil
	})
}
