package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/backend/local"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/scanner"
	"github.com/fyrsmithlabs/ctxpack/internal/telemetry"
	"github.com/fyrsmithlabs/ctxpack/internal/workspace"
)

var sampleProject = map[string]string{
	".gitignore":  "*.log\n",
	"main.go":     "package main\n\nfunc main() {}\n",
	"pkg/util.go": "package pkg\n",
	"pkg/doc.go":  "// Package pkg.\npackage pkg\n",
	"debug.log":   "noise\n",
}

type fixture struct {
	root    string
	backend *local.Service
	ws      *workspace.Workspace
	server  *Server
	logs    *logging.TestLogger
}

func newFixture(t *testing.T, withWorkspace bool, cfg Config, opts ...Option) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "proj")
	for rel, content := range sampleProject {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	bcfg := local.DefaultConfig()
	bcfg.ContextDir = t.TempDir()
	bcfg.CleanupInterval = 0
	b, err := local.New(bcfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	f := &fixture{root: root, backend: b, logs: logging.NewTestLogger()}
	if withWorkspace {
		sc, err := scanner.New(scanner.DefaultConfig())
		require.NoError(t, err)
		ws, err := workspace.Open(context.Background(), root, workspace.DefaultConfig(), sc, b)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ws.Close() })
		f.ws = ws
		opts = append(opts, WithWorkspace(ws))
	}

	srv, err := NewServer(b, f.logs.Underlying(), cfg, opts...)
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), Config{})
	assert.ErrorContains(t, err, "backend cannot be nil")

	f := newFixture(t, false, Config{})
	_, err = NewServer(f.backend, nil, Config{})
	assert.ErrorContains(t, err, "logger is required")

	assert.Equal(t, "127.0.0.1:8377", f.server.Addr())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false, Config{})

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "200"))
	f.do(t, http.MethodGet, "/health", nil)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "200"))
	assert.Equal(t, before+1, after)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ctxpack_http_requests_total")
}

func TestStatus(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	f := newFixture(t, true, Config{}, WithVersion("1.2.3"), WithTelemetry(tel.Telemetry))

	resp := decode[StatusResponse](t, f.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, f.root, resp.Project)
	require.NotNil(t, resp.Pipeline)
	assert.EqualValues(t, "idle", resp.Pipeline.Status)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Enabled)
}

func TestContextsAPI(t *testing.T) {
	f := newFixture(t, false, Config{})
	req := BuildContextRequest{
		ProjectPath: f.root,
		Paths:       []string{f.path("main.go"), f.path("pkg/util.go")},
		Options:     backend.DefaultBuildOptions(),
	}

	rec := f.do(t, http.MethodPost, "/api/v1/contexts", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sum := decode[backend.ContextSummary](t, rec)
	assert.Equal(t, 2, sum.FileCount)

	rec = f.do(t, http.MethodGet, "/api/v1/contexts/"+sum.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sum.ID, decode[backend.ContextSummary](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/v1/contexts/"+sum.ID+"/content?start=0&count=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chunk := decode[backend.ContextChunk](t, rec)
	assert.Contains(t, strings.Join(chunk.Lines, "\n"), "func main() {}")

	rec = f.do(t, http.MethodGet, "/api/v1/contexts?project="+f.root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListContextsResponse](t, rec).Contexts, 1)

	rec = f.do(t, http.MethodDelete, "/api/v1/contexts/"+sum.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/contexts/"+sum.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	er := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(backend.CodeNotFound), er.Code)
}

func TestContextsAPI_BadRequests(t *testing.T) {
	f := newFixture(t, false, Config{})

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"missing project", http.MethodPost, "/api/v1/contexts", BuildContextRequest{Paths: []string{"/x"}}},
		{"missing paths", http.MethodPost, "/api/v1/contexts/stream", BuildContextRequest{ProjectPath: "/x"}},
		{"bad count", http.MethodGet, "/api/v1/contexts/abc/content?count=many", nil},
		{"negative start", http.MethodGet, "/api/v1/contexts/abc/content?start=-1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(backend.CodeInvalidRequest), decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestWorkspaceRoutes_NoWorkspace(t *testing.T) {
	f := newFixture(t, false, Config{})
	rec := f.do(t, http.MethodGet, "/api/v1/workspace/tree", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeNoWorkspace, decode[ErrorResponse](t, rec).Code)
}

func TestWorkspace_TreeAndSelection(t *testing.T) {
	f := newFixture(t, true, Config{})

	tree := decode[TreeResponse](t, f.do(t, http.MethodGet, "/api/v1/workspace/tree", nil))
	assert.Equal(t, 4, tree.FileCount)
	names := map[string]TreeRow{}
	for _, r := range tree.Rows {
		names[r.RelPath] = r
	}
	require.Contains(t, names, "pkg")
	assert.Equal(t, "none", names["pkg"].State)
	assert.NotContains(t, names, "pkg/util.go", "collapsed directories hide children")
	assert.True(t, names["debug.log"].Ignored)

	rec := f.do(t, http.MethodPost, "/api/v1/workspace/expand", PathRequest{Path: f.path("pkg")})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("pkg/util.go")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mut := decode[MutationResponse](t, rec)
	assert.Equal(t, 1, mut.AffectedCount)
	assert.Equal(t, 1, mut.Selection.Count)
	assert.Positive(t, mut.Selection.EstimatedTokens)

	tree = decode[TreeResponse](t, f.do(t, http.MethodGet, "/api/v1/workspace/tree", nil))
	for _, r := range tree.Rows {
		if r.RelPath == "pkg" {
			assert.Equal(t, "partial", r.State)
			assert.True(t, r.Expanded)
		}
	}

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("pkg")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[MutationResponse](t, rec).Selection.Count)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/deselect", PathRequest{Path: f.path("pkg")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[MutationResponse](t, rec).Selection.Count)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/select", PathRequest{Path: f.path("pkg")})
	require.Equal(t, http.StatusOK, rec.Code)
	f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("main.go")})
	sel := decode[SelectionResponse](t, f.do(t, http.MethodGet, "/api/v1/workspace/selection", nil))
	assert.Equal(t, 3, sel.Count)
	assert.Positive(t, sel.SizeBytes)

	rec = f.do(t, http.MethodDelete, "/api/v1/workspace/selection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.ws.Engine().SelectedPaths())
}

func TestWorkspace_SelectionErrors(t *testing.T) {
	f := newFixture(t, true, Config{})

	rec := f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("debug.log")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeRejected, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("nope.go")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeStaleNode, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: "../outside.go"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: "main.go"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.ws.Engine().IsSelected(f.path("main.go")))
}

func TestWorkspace_BuildAndContent(t *testing.T) {
	f := newFixture(t, true, Config{})

	rec := f.do(t, http.MethodPost, "/api/v1/workspace/build", WorkspaceBuildRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	er := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeValidationFailed, er.Code)
	require.NotNil(t, er.Validation)
	assert.False(t, er.Validation.IsValid)

	rec = f.do(t, http.MethodGet, "/api/v1/workspace/content", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNoContext, decode[ErrorResponse](t, rec).Code)

	f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("main.go")})
	res := decode[map[string]any](t, f.do(t, http.MethodPost, "/api/v1/workspace/validate", nil))
	assert.Equal(t, true, res["isValid"])

	opts := backend.DefaultBuildOptions()
	opts.OutputFormat = backend.FormatPlain
	rec = f.do(t, http.MethodPost, "/api/v1/workspace/build", WorkspaceBuildRequest{Options: &opts})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sum := decode[backend.ContextSummary](t, rec)
	assert.Equal(t, 1, sum.FileCount)

	rec = f.do(t, http.MethodGet, "/api/v1/workspace/content?start=0&count=100", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, strings.Join(decode[backend.ContextChunk](t, rec).Lines, "\n"), "func main() {}")

	// The context vanished on the backend: the pipeline reports a stale reference.
	require.NoError(t, f.backend.DeleteContext(context.Background(), sum.ID))
	rec = f.do(t, http.MethodGet, "/api/v1/workspace/content?start=1&count=50", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, CodeStaleReference, decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/workspace/context", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWorkspace_Refresh(t *testing.T) {
	f := newFixture(t, true, Config{})
	f.do(t, http.MethodPost, "/api/v1/workspace/selection/toggle", PathRequest{Path: f.path("pkg/util.go")})
	require.NoError(t, os.Remove(f.path("pkg/util.go")))

	rec := f.do(t, http.MethodPost, "/api/v1/workspace/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RefreshResponse](t, rec)
	assert.Equal(t, []string{f.path("pkg/util.go")}, resp.Dropped)
	assert.Equal(t, 3, resp.FileCount)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, false, Config{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(t, http.MethodGet, "/api/v1/status", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health and metrics routes are never limited.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
}

func TestRequestLogging_CorrelationFields(t *testing.T) {
	f := newFixture(t, true, Config{})
	sum, err := f.backend.BuildContext(context.Background(), f.root, []string{f.path("main.go")}, backend.DefaultBuildOptions())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contexts/"+sum.ID, nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(echo.HeaderXRequestID))

	f.logs.AssertField(t, "http request", "request.id", "req-42")
	f.logs.AssertField(t, "http request", "context.id", sum.ID)
	f.logs.AssertField(t, "http request", "project.path", f.ws.Root())
	f.logs.AssertField(t, "http request", "status", int64(http.StatusOK))
}

func TestErrorHandler_LogsServerFaults(t *testing.T) {
	f := newFixture(t, false, Config{})
	f.server.echo.GET("/boom", func(echo.Context) error {
		return backend.NewError(backend.CodeInternal, "boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-boom")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	f.logs.AssertLogged(t, zap.ErrorLevel, "request failed")
	f.logs.AssertField(t, "request failed", "request.id", "req-boom")
}

func TestToResponse_BackendCodes(t *testing.T) {
	tests := []struct {
		code   backend.Code
		status int
	}{
		{backend.CodeNotFound, http.StatusNotFound},
		{backend.CodeCorrupted, http.StatusBadGateway},
		{backend.CodeLimitExceeded, http.StatusRequestEntityTooLarge},
		{backend.CodeInvalidRequest, http.StatusBadRequest},
		{backend.CodeUnavailable, http.StatusServiceUnavailable},
		{backend.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := backend.NewError(tt.code, "boom").WithContextID("id-1")
			status, body := toResponse(err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, string(tt.code), body.Code)
			assert.Equal(t, "id-1", body.ContextID)

			back := decodeError(status, body)
			assert.Equal(t, tt.code, backend.CodeOf(back))
		})
	}
}
