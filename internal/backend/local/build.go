package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/secrets"
)

// Skip reasons recorded in Metadata.SkippedReasons.
const (
	skipMissing   = "not found"
	skipDirectory = "is a directory"
	skipOutside   = "outside project"
	skipOversized = "exceeds max file size"
	skipBinary    = "binary file"
	skipTest      = "test file"
)

type inputFile struct {
	abs string
	rel string
}

// resolve turns the requested paths into readable files under projectPath.
// Everything else is reported as skipped, keyed by the path as requested.
// Duplicates are dropped silently.
func (s *Service) resolve(projectPath string, paths []string, opts backend.BuildOptions) ([]inputFile, []string, map[string]string) {
	root := filepath.Clean(projectPath)
	reasons := make(map[string]string)
	var order []string
	skip := func(p, reason string) {
		if _, ok := reasons[p]; !ok {
			order = append(order, p)
		}
		reasons[p] = reason
	}
	seen := make(map[string]bool, len(paths))
	files := make([]inputFile, 0, len(paths))

	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, abs)
		}
		abs = filepath.Clean(abs)

		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			skip(p, skipOutside)
			continue
		}
		rel = filepath.ToSlash(rel)
		if seen[abs] {
			continue
		}
		seen[abs] = true

		info, err := os.Stat(abs)
		switch {
		case err != nil:
			skip(p, skipMissing)
			continue
		case info.IsDir():
			skip(p, skipDirectory)
			continue
		case info.Size() > s.cfg.MaxFileSizeBytes:
			skip(p, skipOversized)
			continue
		case opts.ExcludeTests && isTestFile(rel):
			skip(p, skipTest)
			continue
		}
		if bin, err := filetree.IsBinaryFile(abs); err != nil {
			skip(p, skipMissing)
			continue
		} else if bin {
			skip(p, skipBinary)
			continue
		}
		files = append(files, inputFile{abs: abs, rel: rel})
	}
	return files, order, reasons
}

// countingWriter tracks bytes and line breaks written through it.
type countingWriter struct {
	w        io.Writer
	n        int64
	newlines int
	last     byte
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.newlines += bytes.Count(p[:n], []byte{'\n'})
	if n > 0 {
		c.last = p[n-1]
	}
	return n, err
}

func (c *countingWriter) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Lines returns the number of lines a reader splitting on '\n' will see.
func (c *countingWriter) Lines() int {
	if c.n > 0 && c.last != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}

// build renders the context and persists it. streaming writes to a temp file
// as it goes; otherwise the document is assembled in memory first.
func (s *Service) build(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions, streaming bool) (*backend.ContextSummary, error) {
	start := s.now()
	if projectPath == "" {
		return nil, backend.NewError(backend.CodeInvalidRequest, "project path is required")
	}
	if len(paths) == 0 {
		return nil, backend.NewError(backend.CodeInvalidRequest, "no files selected")
	}
	opts = opts.Normalize()

	files, skippedFiles, skipped := s.resolve(projectPath, paths, opts)
	if len(files) == 0 {
		return nil, backend.NewError(backend.CodeInvalidRequest, "none of the %d selected files could be read", len(paths))
	}

	var scrubber secrets.Scrubber = secrets.Noop{}
	var warnings []string
	if opts.RedactSecrets {
		sc, err := secrets.New(s.secrets, projectPath)
		if sc == nil {
			return nil, backend.NewError(backend.CodeInvalidRequest, "secret redaction unavailable").WithCause(err)
		}
		if err != nil {
			s.logger.Warn("secret scrubber degraded", zap.Error(err))
		}
		scrubber = sc
	}

	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		buf  bytes.Buffer
		tmp  *os.File
		bw   *bufio.Writer
		sink io.Writer
		err  error
	)
	if streaming {
		tmp, err = os.CreateTemp(s.cfg.ContextDir, id+".*.tmp")
		if err != nil {
			return nil, backend.NewError(backend.CodeInternal, "create content file").WithCause(err)
		}
		defer func() {
			if tmp != nil {
				tmp.Close()
				os.Remove(tmp.Name())
			}
		}()
		bw = bufio.NewWriterSize(tmp, 64<<10)
		sink = bw
	} else {
		sink = &buf
	}

	cw := &countingWriter{w: sink}
	res, err := s.render(ctx, cw, projectPath, files, opts, scrubber)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, res.warnings...)

	contentFile := s.contentPath(id)
	if streaming {
		if err := bw.Flush(); err != nil {
			return nil, backend.NewError(backend.CodeInternal, "flush content").WithCause(err)
		}
		if err := tmp.Close(); err != nil {
			return nil, backend.NewError(backend.CodeInternal, "close content").WithCause(err)
		}
		if err := os.Rename(tmp.Name(), contentFile); err != nil {
			return nil, backend.NewError(backend.CodeInternal, "commit content").WithCause(err)
		}
		tmp = nil
	} else if err := os.WriteFile(contentFile, buf.Bytes(), 0o600); err != nil {
		os.Remove(contentFile)
		return nil, backend.NewError(backend.CodeInternal, "write content").WithCause(err)
	}

	selected := make([]string, len(files))
	for i, f := range files {
		selected[i] = f.rel
	}
	if len(skippedFiles) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d file(s) skipped", len(skippedFiles)))
	}

	now := s.now()
	optsCopy := opts
	sum := &backend.ContextSummary{
		ID:          id,
		ProjectPath: filepath.Clean(projectPath),
		FileCount:   len(files),
		TotalSize:   cw.n,
		TokenCount:  res.tokens,
		LineCount:   cw.Lines(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      backend.StatusReady,
		Metadata: backend.Metadata{
			Name:          contextName(projectPath, selected),
			SelectedFiles: selected,
			BuildOptions:  &optsCopy,
			Warnings:      nonNil(warnings),
			Errors:        []string{},
			SkippedFiles:  skippedFiles,
			BuildDuration: now.Sub(start),
			Git:           gitInfo(projectPath),
		},
	}
	if len(skipped) > 0 {
		sum.Metadata.SkippedReasons = skipped
	}

	if err := s.saveSummary(sum); err != nil {
		os.Remove(contentFile)
		return nil, err
	}

	s.logger.Info("context built",
		zap.String("context_id", id),
		zap.Bool("streaming", streaming),
		zap.Int("files", sum.FileCount),
		zap.Int("skipped", len(skippedFiles)),
		zap.Int("lines", sum.LineCount),
		zap.Int("tokens", sum.TokenCount),
		zap.Duration("duration", sum.Metadata.BuildDuration),
	)
	return sum, nil
}

type renderResult struct {
	tokens   int
	warnings []string
}

// render writes the document for files to w, enforcing the memory and token
// limits in opts.
func (s *Service) render(ctx context.Context, w *countingWriter, projectPath string, files []inputFile, opts backend.BuildOptions, scrubber secrets.Scrubber) (*renderResult, error) {
	f := newFormatter(opts.OutputFormat)
	project := filepath.Base(filepath.Clean(projectPath))
	memLimit := int64(opts.MaxMemoryMB) << 20
	res := &renderResult{}
	redacted := 0

	write := func(text string) error {
		if _, err := w.WriteString(text); err != nil {
			return backend.NewError(backend.CodeInternal, "write content").WithCause(err)
		}
		if w.n > memLimit {
			return backend.NewError(backend.CodeLimitExceeded, "context exceeds %d MB", opts.MaxMemoryMB)
		}
		return nil
	}

	if err := write(f.header(project, len(files))); err != nil {
		return nil, err
	}
	if opts.IncludeManifest {
		rels := make([]string, len(files))
		for i, in := range files {
			rels[i] = in.rel
		}
		if err := write(f.manifest(filetree.RenderPaths(project, rels))); err != nil {
			return nil, err
		}
	}

	for i, in := range files {
		if err := ctx.Err(); err != nil {
			return nil, backend.NewError(backend.CodeUnavailable, "build cancelled").WithCause(err)
		}
		raw, err := os.ReadFile(in.abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, backend.NewError(backend.CodeNotFound, "file disappeared during build: %s", in.rel).WithCause(err)
			}
			return nil, backend.NewError(backend.CodeInternal, "read %s", in.rel).WithCause(err)
		}

		content := transform(string(raw), in.rel, opts.StripComments, opts.TrimWhitespace, opts.CollapseEmptyLines)
		if scrubber.IsEnabled() {
			r := scrubber.Scrub(in.rel, content)
			if r.HasFindings() {
				redacted += len(r.Findings)
				s.logger.Debug("secrets redacted", zap.String("file", in.rel), zap.String("summary", r.Summary()))
			}
			content = r.Scrubbed
		}
		if opts.IncludeLineNumbers {
			content = addLineNumbers(content)
		}

		res.tokens += s.tokens.Count(content)
		if opts.MaxTokens > 0 && res.tokens > opts.MaxTokens {
			return nil, backend.NewError(backend.CodeLimitExceeded, "context exceeds token limit of %d", opts.MaxTokens)
		}

		if err := write(f.fileStart(in.rel, i)); err != nil {
			return nil, err
		}
		if err := write(f.body(content)); err != nil {
			return nil, err
		}
		if err := write(f.fileEnd()); err != nil {
			return nil, err
		}
	}
	if err := write(f.footer()); err != nil {
		return nil, err
	}
	if redacted > 0 {
		res.warnings = append(res.warnings, fmt.Sprintf("%d secret(s) redacted", redacted))
	}
	return res, nil
}

// saveSummary writes the summary atomically.
func (s *Service) saveSummary(sum *backend.ContextSummary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return backend.NewError(backend.CodeInternal, "encode summary").WithCause(err)
	}
	final := s.summaryPath(sum.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return backend.NewError(backend.CodeInternal, "write summary").WithCause(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return backend.NewError(backend.CodeInternal, "commit summary").WithCause(err)
	}
	return nil
}

// contextName is "<project> - <file>" for one file and "<project> - N files"
// otherwise.
func contextName(projectPath string, rels []string) string {
	project := filepath.Base(filepath.Clean(projectPath))
	if len(rels) == 1 {
		return fmt.Sprintf("%s - %s", project, filepath.Base(rels[0]))
	}
	return fmt.Sprintf("%s - %d files", project, len(rels))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
