package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

func bindBuild(c echo.Context) (BuildContextRequest, error) {
	req := BuildContextRequest{Options: backend.DefaultBuildOptions()}
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectPath == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "projectPath is required")
	}
	if len(req.Paths) == 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "paths must not be empty")
	}
	return req, nil
}

func (s *Server) handleBuildContext(c echo.Context) error {
	req, err := bindBuild(c)
	if err != nil {
		return err
	}
	sum, err := s.backend.BuildContext(c.Request().Context(), req.ProjectPath, req.Paths, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sum)
}

func (s *Server) handleStreamContext(c echo.Context) error {
	req, err := bindBuild(c)
	if err != nil {
		return err
	}
	sc, err := s.backend.CreateStreamingContext(c.Request().Context(), req.ProjectPath, req.Paths, req.Options)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sc)
}

func (s *Server) handleListContexts(c echo.Context) error {
	list, err := s.backend.ListContexts(c.Request().Context(), c.QueryParam("project"))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*backend.ContextSummary{}
	}
	return c.JSON(http.StatusOK, ListContextsResponse{Contexts: list})
}

func (s *Server) handleGetSummary(c echo.Context) error {
	sum, err := s.backend.GetContextSummary(withContextID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

// bindChunk reads ?start=&count=. Missing values are zero; the backend
// applies its own defaults and clamps.
func bindChunk(c echo.Context) (backend.ChunkRequest, error) {
	var req backend.ChunkRequest
	err := echo.QueryParamsBinder(c).
		Int("start", &req.StartLine).
		Int("count", &req.LineCount).
		BindError()
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "start and count must be integers")
	}
	if req.StartLine < 0 || req.LineCount < 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "start and count must not be negative")
	}
	return req, nil
}

func (s *Server) handleGetContent(c echo.Context) error {
	req, err := bindChunk(c)
	if err != nil {
		return err
	}
	chunk, err := s.backend.GetContextContent(withContextID(c), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chunk)
}

func (s *Server) handleDeleteContext(c echo.Context) error {
	if err := s.backend.DeleteContext(withContextID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
