// Package local implements backend.Backend on the local filesystem.
//
// Every context is two files in ContextDir: <id>.ctx holds the rendered
// document and <id>.json holds its ContextSummary. Content is only ever read
// back one page at a time.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/sanitize"
	"github.com/fyrsmithlabs/ctxpack/internal/secrets"
	"github.com/fyrsmithlabs/ctxpack/internal/tokens"
)

const (
	contentExt = ".ctx"
	summaryExt = ".json"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEstimator sets the token estimator.
func WithEstimator(e tokens.Estimator) Option {
	return func(s *Service) {
		if e != nil {
			s.tokens = e
		}
	}
}

// WithSecrets sets the redaction configuration used for RedactSecrets builds.
func WithSecrets(cfg secrets.Config) Option {
	return func(s *Service) {
		s.secrets = cfg
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is a filesystem context builder.
type Service struct {
	cfg     Config
	tokens  tokens.Estimator
	secrets secrets.Config
	logger  *zap.Logger
	now     func() time.Time

	// mu serialises writes and deletes in ContextDir.
	mu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ backend.Backend = (*Service)(nil)

// New creates the context directory and returns a Service.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local backend config: %w", err)
	}
	if err := os.MkdirAll(cfg.ContextDir, 0o700); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	s := &Service{
		cfg:     cfg,
		tokens:  tokens.NewHeuristic(0),
		secrets: secrets.DefaultConfig(),
		logger:  zap.NewNop(),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) contentPath(id string) string { return filepath.Join(s.cfg.ContextDir, id+contentExt) }
func (s *Service) summaryPath(id string) string { return filepath.Join(s.cfg.ContextDir, id+summaryExt) }

// validID rejects ids that could escape ContextDir.
func validID(id string) error {
	if err := sanitize.ValidateContextID(id); err != nil {
		return backend.NewError(backend.CodeInvalidRequest, "invalid context id %q", id).WithCause(err)
	}
	return nil
}

// BuildContext renders the whole context in memory and writes it once.
func (s *Service) BuildContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.ContextSummary, error) {
	return s.build(ctx, projectPath, paths, opts, false)
}

// CreateStreamingContext renders the context straight to disk.
func (s *Service) CreateStreamingContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.StreamingContext, error) {
	sum, err := s.build(ctx, projectPath, paths, opts, true)
	if err != nil {
		return nil, err
	}
	return &backend.StreamingContext{
		ID:          sum.ID,
		Name:        sum.Metadata.Name,
		Description: fmt.Sprintf("Streaming context with %d files from %s", sum.FileCount, filepath.Base(projectPath)),
		ProjectPath: sum.ProjectPath,
		Files:       sum.Metadata.SelectedFiles,
		TotalLines:  sum.LineCount,
		TotalChars:  sum.TotalSize,
		TokenCount:  sum.TokenCount,
		CreatedAt:   sum.CreatedAt,
		UpdatedAt:   sum.UpdatedAt,
		Metadata:    sum.Metadata,
	}, nil
}

// GetContextSummary loads the stored summary.
func (s *Service) GetContextSummary(ctx context.Context, id string) (*backend.ContextSummary, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	return s.loadSummary(id)
}

func (s *Service) loadSummary(id string) (*backend.ContextSummary, error) {
	data, err := os.ReadFile(s.summaryPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, backend.NewError(backend.CodeNotFound, "context not found").WithContextID(id)
	}
	if err != nil {
		return nil, backend.NewError(backend.CodeInternal, "read summary").WithContextID(id).WithCause(err)
	}
	var sum backend.ContextSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, backend.NewError(backend.CodeCorrupted, "summary is not valid JSON").WithContextID(id).WithCause(err)
	}
	return &sum, nil
}

// GetContextContent reads one page. Requests past the end return an empty
// chunk with HasMore false.
func (s *Service) GetContextContent(ctx context.Context, id string, req backend.ChunkRequest) (*backend.ContextChunk, error) {
	sum, err := s.GetContextSummary(ctx, id)
	if err != nil {
		return nil, err
	}
	req = req.Clamp(backend.DefaultPageLines, backend.MaxPageLines)

	chunk := &backend.ContextChunk{
		ContextID:  id,
		ChunkID:    fmt.Sprintf("%s:%d", id, req.StartLine),
		StartLine:  req.StartLine,
		TotalLines: sum.LineCount,
		Lines:      []string{},
	}
	if req.StartLine >= sum.LineCount {
		return chunk, nil
	}

	f, err := os.Open(s.contentPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, backend.NewError(backend.CodeCorrupted, "content file missing").WithContextID(id)
	}
	if err != nil {
		return nil, backend.NewError(backend.CodeInternal, "open content").WithContextID(id).WithCause(err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	if _, err := skipLines(r, req.StartLine); err != nil && !errors.Is(err, io.EOF) {
		return nil, backend.NewError(backend.CodeInternal, "read content").WithContextID(id).WithCause(err)
	}
	for len(chunk.Lines) < req.LineCount {
		if err := ctx.Err(); err != nil {
			return nil, backend.NewError(backend.CodeUnavailable, "request cancelled").WithCause(err)
		}
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			chunk.Lines = append(chunk.Lines, strings.TrimSuffix(line, "\n"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, backend.NewError(backend.CodeInternal, "read content").WithContextID(id).WithCause(err)
		}
	}

	want := req.LineCount
	if rest := sum.LineCount - req.StartLine; rest < want {
		want = rest
	}
	if len(chunk.Lines) < want {
		return nil, backend.NewError(backend.CodeCorrupted,
			"content truncated: expected %d lines from %d, read %d", want, req.StartLine, len(chunk.Lines)).WithContextID(id)
	}
	chunk.LineCount = len(chunk.Lines)
	chunk.HasMore = req.StartLine+chunk.LineCount < sum.LineCount
	return chunk, nil
}

// skipLines advances r past n lines.
func skipLines(r *bufio.Reader, n int) (int, error) {
	skipped := 0
	inLine := false
	for skipped < n {
		b, err := r.ReadSlice('\n')
		switch {
		case err == nil:
			skipped++
			inLine = false
		case errors.Is(err, bufio.ErrBufferFull):
			inLine = true
		case errors.Is(err, io.EOF):
			if inLine || len(b) > 0 {
				skipped++
			}
			return skipped, io.EOF
		default:
			return skipped, err
		}
	}
	return skipped, nil
}

// DeleteContext removes both files of a context.
func (s *Service) DeleteContext(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Service) deleteLocked(id string) error {
	errSum := os.Remove(s.summaryPath(id))
	errContent := os.Remove(s.contentPath(id))
	if errors.Is(errSum, fs.ErrNotExist) && errors.Is(errContent, fs.ErrNotExist) {
		return backend.NewError(backend.CodeNotFound, "context not found").WithContextID(id)
	}
	for _, err := range []error{errSum, errContent} {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return backend.NewError(backend.CodeInternal, "delete context").WithContextID(id).WithCause(err)
		}
	}
	s.logger.Debug("context deleted", zap.String("context_id", id))
	return nil
}

// ListContexts returns stored summaries, newest first. Unreadable summaries
// are skipped.
func (s *Service) ListContexts(ctx context.Context, projectPath string) ([]*backend.ContextSummary, error) {
	entries, err := os.ReadDir(s.cfg.ContextDir)
	if err != nil {
		return nil, backend.NewError(backend.CodeInternal, "list contexts").WithCause(err)
	}
	var clean string
	if projectPath != "" {
		clean = filepath.Clean(projectPath)
	}

	var out []*backend.ContextSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, summaryExt) {
			continue
		}
		sum, err := s.loadSummary(strings.TrimSuffix(name, summaryExt))
		if err != nil {
			s.logger.Warn("skipping unreadable context summary", zap.String("file", name), zap.Error(err))
			continue
		}
		if clean != "" && filepath.Clean(sum.ProjectPath) != clean {
			continue
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Cleanup removes contexts older than MaxAge and then the oldest ones beyond
// MaxContexts. It returns how many were removed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	all, err := s.ListContexts(ctx, "")
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.cfg.MaxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := 0
	for _, sum := range all {
		if sum.CreatedAt.After(cutoff) && kept < s.cfg.MaxContexts {
			kept++
			continue
		}
		if err := s.deleteLocked(sum.ID); err != nil && !backend.IsNotFound(err) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired contexts removed", zap.Int("removed", removed), zap.Int("kept", kept))
	}
	return removed, nil
}

// Start runs Cleanup every CleanupInterval until ctx ends or Close is called.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.Cleanup(ctx); err != nil {
					s.logger.Warn("context cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// Close stops the cleanup loop.
func (s *Service) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}
