package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/filetree"
	"github.com/fyrsmithlabs/ctxpack/internal/sanitize"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
)

// bindPath reads a PathRequest and resolves its path against the project
// root. Relative paths are accepted.
func (s *Server) bindPath(c echo.Context) (string, error) {
	var req PathRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	path, err := sanitize.ValidatePath(req.Path, s.workspace.Root())
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return path, nil
}

func (s *Server) handleTree(c echo.Context) error {
	ws := s.workspace
	eng := ws.Engine()
	idx := eng.Index()
	rows := filetree.FlattenForDisplay(idx.Roots(), eng.IsExpanded)

	out := TreeResponse{Root: ws.Root(), FileCount: idx.FileCount(), Rows: make([]TreeRow, 0, len(rows))}
	for _, r := range rows {
		n := r.Node
		row := TreeRow{
			Path:     n.Path,
			RelPath:  n.RelPath,
			Name:     n.Name,
			Depth:    r.Depth,
			IsDir:    n.IsDir,
			Size:     n.Size,
			Ignored:  n.IsIgnored(),
			Binary:   n.IsBinary,
			Expanded: n.IsDir && eng.IsExpanded(n.Path),
			State:    eng.State(n.Path).String(),
		}
		if n.IsDir {
			row.LeafCount = idx.LeafCount(n.Path)
		}
		out.Rows = append(out.Rows, row)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRefresh(c echo.Context) error {
	dropped, err := s.workspace.Refresh(c.Request().Context())
	if err != nil {
		return err
	}
	if dropped == nil {
		dropped = []string{}
	}
	return c.JSON(http.StatusOK, RefreshResponse{Dropped: dropped, FileCount: s.workspace.Index().FileCount()})
}

func (s *Server) selection(c echo.Context) SelectionResponse {
	eng := s.workspace.Engine()
	snap := eng.Snapshot()
	res := s.workspace.Validate(c.Request().Context())
	return SelectionResponse{
		Selected:        snap.Selected,
		Expanded:        snap.Expanded,
		Count:           len(snap.Selected),
		SizeBytes:       eng.SelectedSize(),
		EstimatedTokens: res.EstimatedTokens,
	}
}

func (s *Server) handleSelection(c echo.Context) error {
	return c.JSON(http.StatusOK, s.selection(c))
}

// mutation turns an engine Result into a response or an error.
func (s *Server) mutation(c echo.Context, res selection.Result) error {
	if res.Err != nil {
		return res.Err
	}
	out := MutationResponse{AffectedCount: res.AffectedCount, Selection: s.selection(c)}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
		out.Evicted = res.Warning.Evicted
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleClearSelection(c echo.Context) error {
	return s.mutation(c, s.workspace.Engine().Clear())
}

// handleToggle toggles a file, or cycles a directory through its tri-state.
func (s *Server) handleToggle(c echo.Context) error {
	path, err := s.bindPath(c)
	if err != nil {
		return err
	}
	eng := s.workspace.Engine()
	if n, ok := eng.Index().Lookup(path); ok && n.IsDir {
		return s.mutation(c, eng.ToggleDirectory(path))
	}
	return s.mutation(c, eng.ToggleLeaf(path))
}

func (s *Server) handleSelectRecursive(c echo.Context) error {
	path, err := s.bindPath(c)
	if err != nil {
		return err
	}
	return s.mutation(c, s.workspace.Engine().SelectRecursive(path))
}

func (s *Server) handleDeselectRecursive(c echo.Context) error {
	path, err := s.bindPath(c)
	if err != nil {
		return err
	}
	return s.mutation(c, s.workspace.Engine().DeselectRecursive(path))
}

func (s *Server) handleToggleExpanded(c echo.Context) error {
	path, err := s.bindPath(c)
	if err != nil {
		return err
	}
	return s.mutation(c, s.workspace.Engine().ToggleExpanded(path))
}

func (s *Server) handleValidate(c echo.Context) error {
	return c.JSON(http.StatusOK, s.workspace.Validate(c.Request().Context()))
}

func (s *Server) handleWorkspaceBuild(c echo.Context) error {
	var req WorkspaceBuildRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	opts := backend.DefaultBuildOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	sum, err := s.workspace.Build(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sum)
}

func (s *Server) handleWorkspaceContent(c echo.Context) error {
	req, err := bindChunk(c)
	if err != nil {
		return err
	}
	chunk, err := s.workspace.Pipeline().GetContent(c.Request().Context(), req.StartLine, req.LineCount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chunk)
}

func (s *Server) handleWorkspaceReset(c echo.Context) error {
	s.workspace.Pipeline().Reset(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
