package http

import (
	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
)

// BuildContextRequest is the body of POST /api/v1/contexts and
// POST /api/v1/contexts/stream.
type BuildContextRequest struct {
	ProjectPath string               `json:"projectPath"`
	Paths       []string             `json:"paths"`
	Options     backend.BuildOptions `json:"options"`
}

// ListContextsResponse is the body of GET /api/v1/contexts.
type ListContextsResponse struct {
	Contexts []*backend.ContextSummary `json:"contexts"`
}

// PathRequest names one tree node.
type PathRequest struct {
	Path string `json:"path"`
}

// WorkspaceBuildRequest is the body of POST /api/v1/workspace/build.
type WorkspaceBuildRequest struct {
	Options *backend.BuildOptions `json:"options,omitempty"`
}

// TreeRow is one visible row of the project tree.
type TreeRow struct {
	Path      string `json:"path"`
	RelPath   string `json:"relPath"`
	Name      string `json:"name"`
	Depth     int    `json:"depth"`
	IsDir     bool   `json:"isDir"`
	Size      int64  `json:"size"`
	Ignored   bool   `json:"ignored,omitempty"`
	Binary    bool   `json:"binary,omitempty"`
	Expanded  bool   `json:"expanded,omitempty"`
	State     string `json:"state"`
	LeafCount int    `json:"leafCount,omitempty"`
}

// TreeResponse is the body of GET /api/v1/workspace/tree.
type TreeResponse struct {
	Root      string    `json:"root"`
	FileCount int       `json:"fileCount"`
	Rows      []TreeRow `json:"rows"`
}

// SelectionResponse describes the current selection.
type SelectionResponse struct {
	Selected        []string `json:"selected"`
	Expanded        []string `json:"expanded"`
	Count           int      `json:"count"`
	SizeBytes       int64    `json:"sizeBytes"`
	EstimatedTokens int      `json:"estimatedTokens"`
}

// MutationResponse is returned by selection and expansion changes.
type MutationResponse struct {
	AffectedCount int               `json:"affectedCount"`
	Warning       string            `json:"warning,omitempty"`
	Evicted       []string          `json:"evicted,omitempty"`
	Selection     SelectionResponse `json:"selection"`
}

// RefreshResponse lists selected paths dropped because they vanished.
type RefreshResponse struct {
	Dropped   []string `json:"dropped"`
	FileCount int      `json:"fileCount"`
}

// PipelineStatus describes the assembly pipeline.
type PipelineStatus struct {
	Status     assembly.Status         `json:"status"`
	Building   bool                    `json:"building"`
	Generation uint64                  `json:"generation"`
	Current    *backend.ContextSummary `json:"current,omitempty"`
	Metrics    assembly.Metrics        `json:"metrics"`
	LastError  string                  `json:"lastError,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Project   string            `json:"project,omitempty"`
	Pipeline  *PipelineStatus   `json:"pipeline,omitempty"`
	Guard     *GuardStatus      `json:"guard,omitempty"`
	Telemetry *telemetry.Health `json:"telemetry,omitempty"`
}

// GuardStatus describes the memory guard.
type GuardStatus struct {
	Running bool `json:"running"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
