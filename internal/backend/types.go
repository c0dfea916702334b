// Package backend defines the contract between the assembly pipeline and a
// context-builder service, together with the types that cross it.
//
// A backend writes built contexts somewhere it owns and hands back only a
// ContextSummary. Content is read back a page at a time via
// GetContextContent, so neither side has to hold a full context in memory.
package backend

import (
	"context"
	"strings"
	"time"
)

// Page and budget limits shared by every backend.
const (
	DefaultPageLines   = 1000
	MaxPageLines       = 10000
	MaxMemoryMB        = 500
	MaxTokenLimit      = 10_000_000
	OversizedFileBytes = 1 << 20
)

// Status is the lifecycle state of a context on the backend.
type Status string

const (
	StatusBuilding  Status = "building"
	StatusStreaming Status = "streaming"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// OutputFormat selects how file sections are serialized.
type OutputFormat string

const (
	FormatXML      OutputFormat = "xml"
	FormatMarkdown OutputFormat = "markdown"
	FormatPlain    OutputFormat = "plain"
	FormatJSON     OutputFormat = "json"
)

// Valid reports whether f is a known format.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatXML, FormatMarkdown, FormatPlain, FormatJSON:
		return true
	}
	return false
}

// BuildOptions controls how a context is assembled.
type BuildOptions struct {
	OutputFormat       OutputFormat `json:"outputFormat,omitempty"`
	IncludeManifest    bool         `json:"includeManifest"`
	IncludeLineNumbers bool         `json:"includeLineNumbers"`
	StripComments      bool         `json:"stripComments"`
	CollapseEmptyLines bool         `json:"collapseEmptyLines"`
	TrimWhitespace     bool         `json:"trimWhitespace"`
	ExcludeTests       bool         `json:"excludeTests"`
	RedactSecrets      bool         `json:"redactSecrets"`
	MaxTokens          int          `json:"maxTokens,omitempty"`
	MaxMemoryMB        int          `json:"maxMemoryMB,omitempty"`
}

// DefaultBuildOptions returns the options used when a caller passes none.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		OutputFormat:    FormatXML,
		IncludeManifest: true,
	}
}

// Normalize fills defaults and clamps limits to the hard ceilings.
func (o BuildOptions) Normalize() BuildOptions {
	if !o.OutputFormat.Valid() {
		o.OutputFormat = FormatXML
	}
	if o.MaxMemoryMB <= 0 || o.MaxMemoryMB > MaxMemoryMB {
		o.MaxMemoryMB = MaxMemoryMB
	}
	if o.MaxTokens < 0 || o.MaxTokens > MaxTokenLimit {
		o.MaxTokens = MaxTokenLimit
	}
	return o
}

// GitInfo identifies the revision a context was built from.
type GitInfo struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// Metadata describes how a context was built. It never carries content.
type Metadata struct {
	Name           string            `json:"name,omitempty"`
	SelectedFiles  []string          `json:"selectedFiles"`
	BuildOptions   *BuildOptions     `json:"buildOptions,omitempty"`
	Warnings       []string          `json:"warnings"`
	Errors         []string          `json:"errors"`
	SkippedFiles   []string          `json:"skippedFiles,omitempty"`
	SkippedReasons map[string]string `json:"skippedReasons,omitempty"`
	BuildDuration  time.Duration     `json:"buildDuration"`
	Git            *GitInfo          `json:"git,omitempty"`
}

// ContextSummary is the long-lived handle to a built context: an id plus
// counters.
type ContextSummary struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"projectPath"`
	FileCount   int       `json:"fileCount"`
	TotalSize   int64     `json:"totalSize"`
	TokenCount  int       `json:"tokenCount"`
	LineCount   int       `json:"lineCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Status      Status    `json:"status"`
	Metadata    Metadata  `json:"metadata"`
}

// Clone returns a deep copy.
func (s *ContextSummary) Clone() *ContextSummary {
	if s == nil {
		return nil
	}
	c := *s
	m := &c.Metadata
	m.SelectedFiles = append([]string(nil), s.Metadata.SelectedFiles...)
	m.Warnings = append([]string(nil), s.Metadata.Warnings...)
	m.Errors = append([]string(nil), s.Metadata.Errors...)
	m.SkippedFiles = append([]string(nil), s.Metadata.SkippedFiles...)
	if s.Metadata.SkippedReasons != nil {
		m.SkippedReasons = make(map[string]string, len(s.Metadata.SkippedReasons))
		for k, v := range s.Metadata.SkippedReasons {
			m.SkippedReasons[k] = v
		}
	}
	if s.Metadata.BuildOptions != nil {
		o := *s.Metadata.BuildOptions
		m.BuildOptions = &o
	}
	if s.Metadata.Git != nil {
		g := *s.Metadata.Git
		m.Git = &g
	}
	return &c
}

// StreamingContext is returned by a streaming build. The backend wrote the
// content incrementally; only counters come back.
type StreamingContext struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ProjectPath string    `json:"projectPath"`
	Files       []string  `json:"files"`
	TotalLines  int       `json:"totalLines"`
	TotalChars  int64     `json:"totalChars"`
	TokenCount  int       `json:"tokenCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Metadata    Metadata  `json:"metadata"`
}

// Summary converts the stream handle to a ready ContextSummary.
func (s *StreamingContext) Summary() *ContextSummary {
	sum := &ContextSummary{
		ID:          s.ID,
		ProjectPath: s.ProjectPath,
		FileCount:   len(s.Files),
		TotalSize:   s.TotalChars,
		TokenCount:  s.TokenCount,
		LineCount:   s.TotalLines,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Status:      StatusReady,
		Metadata:    s.Metadata,
	}
	if sum.Metadata.Name == "" {
		sum.Metadata.Name = s.Name
	}
	if sum.Metadata.SelectedFiles == nil {
		sum.Metadata.SelectedFiles = s.Files
	}
	return sum.Clone()
}

// ChunkRequest addresses a page of context lines. StartLine is 0-based.
type ChunkRequest struct {
	StartLine int `json:"startLine"`
	LineCount int `json:"lineCount"`
}

// Clamp bounds LineCount to (0, max] using def for non-positive counts.
func (r ChunkRequest) Clamp(def, max int) ChunkRequest {
	if r.StartLine < 0 {
		r.StartLine = 0
	}
	if r.LineCount <= 0 {
		r.LineCount = def
	}
	if r.LineCount > max {
		r.LineCount = max
	}
	return r
}

// ContextChunk is one page of a built context.
type ContextChunk struct {
	ContextID  string   `json:"contextId"`
	ChunkID    string   `json:"chunkId"`
	StartLine  int      `json:"startLine"`
	LineCount  int      `json:"lineCount"`
	Lines      []string `json:"lines"`
	HasMore    bool     `json:"hasMore"`
	TotalLines int      `json:"totalLines"`
}

// Text joins the chunk lines.
func (c *ContextChunk) Text() string {
	return strings.Join(c.Lines, "\n")
}

// Backend builds and serves contexts.
type Backend interface {
	// BuildContext assembles a context in one pass.
	BuildContext(ctx context.Context, projectPath string, paths []string, opts BuildOptions) (*ContextSummary, error)
	// CreateStreamingContext assembles a context writing output incrementally.
	CreateStreamingContext(ctx context.Context, projectPath string, paths []string, opts BuildOptions) (*StreamingContext, error)
	// GetContextContent reads one page of a context.
	GetContextContent(ctx context.Context, id string, req ChunkRequest) (*ContextChunk, error)
	// DeleteContext removes a context and its content.
	DeleteContext(ctx context.Context, id string) error
	// GetContextSummary returns the summary for id, or a CodeNotFound error.
	GetContextSummary(ctx context.Context, id string) (*ContextSummary, error)
	// ListContexts returns the summaries for a project, newest first. An
	// empty projectPath lists every context.
	ListContexts(ctx context.Context, projectPath string) ([]*ContextSummary, error)
}
