// Package scanner loads a project's file tree from the local filesystem.
//
// Scanner implements filetree.Provider. Every directory is read once with an
// explicit stack; nested .gitignore files are honoured the way git does,
// scoped to the directory that holds them. Ignored directories are reported
// but not descended into.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/ignore"
)

// ErrNotDirectory is returned when the project path is not a directory.
var ErrNotDirectory = errors.New("project path is not a directory")

const gitignoreFile = ".gitignore"

// DefaultSkipDirs are never listed. They hold version control data or
// dependencies and are large enough to dominate a scan.
var DefaultSkipDirs = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	".venv",
	"venv",
	"__pycache__",
	".idea",
	".vscode",
	".cache",
	".next",
}

// Config configures a Scanner.
type Config struct {
	UseGitignore     bool     `json:"use_gitignore" koanf:"use_gitignore"`
	UseCustomIgnore  bool     `json:"use_custom_ignore" koanf:"use_custom_ignore"`
	CustomIgnoreFile string   `json:"custom_ignore_file" koanf:"custom_ignore_file"`
	ExtraPatterns    []string `json:"extra_patterns" koanf:"extra_patterns"`
	// MaxFiles caps the number of files listed. Files past the cap are
	// dropped and a warning is logged.
	MaxFiles int      `json:"max_files" koanf:"max_files"`
	SkipDirs []string `json:"skip_dirs" koanf:"skip_dirs"`
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		UseGitignore:     true,
		UseCustomIgnore:  true,
		CustomIgnoreFile: ignore.DefaultFile,
		MaxFiles:         50_000,
		SkipDirs:         append([]string(nil), DefaultSkipDirs...),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxFiles <= 0 {
		return fmt.Errorf("max_files must be positive")
	}
	if strings.ContainsAny(c.CustomIgnoreFile, `/\`) {
		return fmt.Errorf("custom_ignore_file must be a file name, got %q", c.CustomIgnoreFile)
	}
	return nil
}

// LoadOptions returns the filetree options matching the config defaults.
func (c Config) LoadOptions() filetree.LoadOptions {
	return filetree.LoadOptions{UseGitignore: c.UseGitignore, UseCustomIgnore: c.UseCustomIgnore}
}

// Stats describes the last scan.
type Stats struct {
	Files     int
	Dirs      int
	Ignored   int
	Binary    int
	Truncated bool
}

// Scanner walks project directories.
type Scanner struct {
	cfg    Config
	skip   map[string]bool
	logger *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scanner.
func New(cfg Config, opts ...Option) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CustomIgnoreFile == "" {
		cfg.CustomIgnoreFile = ignore.DefaultFile
	}
	s := &Scanner{cfg: cfg, skip: make(map[string]bool, len(cfg.SkipDirs)), logger: zap.NewNop()}
	for _, d := range cfg.SkipDirs {
		s.skip[d] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// frame is one directory waiting to be read.
type frame struct {
	node     *filetree.FileNode
	abs      string
	rel      string
	patterns []gitignore.Pattern
}

// LoadFileTree implements filetree.Provider.
func (s *Scanner) LoadFileTree(ctx context.Context, projectPath string, opts filetree.LoadOptions) ([]*filetree.FileNode, error) {
	roots, _, err := s.Scan(ctx, projectPath, opts)
	return roots, err
}

// Scan is LoadFileTree plus scan statistics.
func (s *Scanner) Scan(ctx context.Context, projectPath string, opts filetree.LoadOptions) ([]*filetree.FileNode, Stats, error) {
	var stats Stats
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, fmt.Errorf("stat project: %w", err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	var custom *ignore.Matcher
	if opts.UseCustomIgnore {
		custom, err = ignore.Load(root, s.cfg.CustomIgnoreFile, s.cfg.ExtraPatterns)
		if err != nil {
			return nil, stats, fmt.Errorf("load custom ignore rules: %w", err)
		}
	}

	top := &filetree.FileNode{Path: root, IsDir: true}
	stack := []frame{{node: top, abs: root}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(f.abs)
		if err != nil {
			if f.node == top {
				return nil, stats, fmt.Errorf("read project: %w", err)
			}
			s.logger.Debug("skipping unreadable directory", zap.String("path", f.abs), zap.Error(err))
			continue
		}

		patterns := f.patterns
		if opts.UseGitignore {
			patterns = s.readGitignore(f, patterns)
		}
		matcher := gitignore.NewMatcher(patterns)

		for _, entry := range entries {
			name := entry.Name()
			abs := filepath.Join(f.abs, name)
			rel := name
			if f.rel != "" {
				rel = f.rel + "/" + name
			}

			isDir, ok := s.kind(entry, abs)
			if !ok || (isDir && s.skip[name]) {
				continue
			}
			if !isDir && stats.Files >= s.cfg.MaxFiles {
				stats.Truncated = true
				continue
			}

			node := &filetree.FileNode{
				Path:       abs,
				RelPath:    rel,
				Name:       name,
				IsDir:      isDir,
				ParentPath: f.node.Path,
			}
			if opts.UseGitignore && len(patterns) > 0 {
				node.IsGitignored = matcher.Match(strings.Split(rel, "/"), isDir)
			}
			if custom != nil {
				node.IsCustomIgnored = custom.Match(rel, isDir)
			}
			if node.IsIgnored() {
				stats.Ignored++
			}

			if isDir {
				stats.Dirs++
				if !node.IsIgnored() {
					stack = append(stack, frame{node: node, abs: abs, rel: rel, patterns: patterns})
				}
			} else {
				stats.Files++
				s.describeFile(node, &stats)
			}
			f.node.Children = append(f.node.Children, node)
		}
	}

	sortTree(top.Children)
	roots := top.Children
	for _, n := range roots {
		n.ParentPath = ""
	}
	if stats.Truncated {
		s.logger.Warn("project has more files than max_files, tree truncated",
			zap.String("project", root), zap.Int("max_files", s.cfg.MaxFiles))
	}
	s.logger.Debug("project scanned",
		zap.String("project", root),
		zap.Int("files", stats.Files),
		zap.Int("dirs", stats.Dirs),
		zap.Int("ignored", stats.Ignored))
	return roots, stats, nil
}

// readGitignore appends the rules of the .gitignore in f, scoped to f.
func (s *Scanner) readGitignore(f frame, inherited []gitignore.Pattern) []gitignore.Pattern {
	lines, err := ignore.ReadFile(filepath.Join(f.abs, gitignoreFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("unreadable .gitignore", zap.String("dir", f.abs), zap.Error(err))
		}
		return inherited
	}
	if len(lines) == 0 {
		return inherited
	}
	var domain []string
	if f.rel != "" {
		domain = strings.Split(f.rel, "/")
	}
	out := make([]gitignore.Pattern, len(inherited), len(inherited)+len(lines))
	copy(out, inherited)
	for _, line := range lines {
		out = append(out, gitignore.ParsePattern(line, domain))
	}
	return out
}

// kind reports whether entry is a directory. Symlinks to files are followed;
// symlinks to directories and special files are skipped.
func (s *Scanner) kind(entry fs.DirEntry, abs string) (isDir, ok bool) {
	mode := entry.Type()
	switch {
	case mode.IsDir():
		return true, true
	case mode.IsRegular():
		return false, true
	case mode&fs.ModeSymlink != 0:
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			return false, false
		}
		return false, true
	default:
		return false, false
	}
}

func (s *Scanner) describeFile(n *filetree.FileNode, stats *Stats) {
	info, err := os.Stat(n.Path)
	if err == nil {
		n.Size = info.Size()
	}
	if n.IsIgnored() || n.Size == 0 {
		return
	}
	binary, err := filetree.IsBinaryFile(n.Path)
	if err != nil {
		s.logger.Debug("binary sniff failed", zap.String("path", n.Path), zap.Error(err))
		return
	}
	if binary {
		n.IsBinary = true
		stats.Binary++
	}
}

// sortTree orders every level directories first, then case-insensitively by
// name.
func sortTree(roots []*filetree.FileNode) {
	stack := [][]*filetree.FileNode{roots}
	for len(stack) > 0 {
		nodes := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].IsDir != nodes[j].IsDir {
				return nodes[i].IsDir
			}
			return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
		})
		for _, n := range nodes {
			if len(n.Children) > 0 {
				stack = append(stack, n.Children)
			}
		}
	}
}

var _ filetree.Provider = (*Scanner)(nil)
