package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
)

func TestToolRegistry_Register(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(&ToolMetadata{Name: "build", Description: "Build a context", Category: CategoryAssembly}))

	got, ok := r.Get("build")
	require.True(t, ok)
	assert.Equal(t, CategoryAssembly, got.Category)

	err := r.Register(&ToolMetadata{Name: "build", Description: "again"})
	assert.ErrorContains(t, err, "already registered")

	tests := []struct {
		name string
		tool *ToolMetadata
	}{
		{"nil", nil},
		{"empty name", &ToolMetadata{Description: "x"}},
		{"bad name", &ToolMetadata{Name: "Get-Content", Description: "x"}},
		{"no description", &ToolMetadata{Name: "tree"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.tool))
		})
	}
	assert.Equal(t, 1, r.Count())
}

func TestToolRegistry_Search(t *testing.T) {
	r := NewToolRegistry()
	for _, tool := range []*ToolMetadata{
		{Name: "tree", Description: "Show the file tree", Category: CategoryTree},
		{Name: "tree_refresh", Description: "Reload files", Category: CategoryTree},
		{Name: "get_content", Description: "Read a page", Category: CategoryAssembly, Keywords: []string{"lines"}},
	} {
		require.NoError(t, r.Register(tool))
	}

	res := r.Search("tree")
	require.Len(t, res, 2)
	assert.Equal(t, "tree", res[0].Tool.Name)
	assert.Equal(t, 3, res[0].Score)
	assert.Equal(t, "tree_refresh", res[1].Tool.Name)
	assert.Equal(t, 2, res[1].Score)

	res = r.Search("LINES")
	require.Len(t, res, 1)
	assert.Equal(t, "keyword matches query", res[0].MatchReason)

	res = r.Search("^get_.*t$")
	require.Len(t, res, 1)
	assert.Equal(t, "get_content", res[0].Tool.Name)

	// An invalid pattern still matches literally.
	assert.Empty(t, r.Search("(("))
	assert.Nil(t, r.Search(""))

	assert.Len(t, r.ListByCategory(CategoryTree), 2)
	names := []string{}
	for _, tool := range r.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"get_content", "tree", "tree_refresh"}, names)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&assembly.ValidationError{}, "validation_error"},
		{&assembly.TimeoutError{}, "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{assembly.ErrBuildInProgress, "busy"},
		{assembly.ErrNoContext, "not_found"},
		{&selection.StaleNodeError{Path: "/x"}, "not_found"},
		{fmt.Errorf("wrapped: %w", selection.ErrIgnored), "rejected"},
		{backend.NewError(backend.CodeNotFound, "gone"), "not_found"},
		{backend.NewError(backend.CodeCorrupted, "bad"), "backend_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
