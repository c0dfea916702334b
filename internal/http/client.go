package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// maxResponseBytes bounds decoded response bodies.
const maxResponseBytes = 64 << 20

// Client is a backend.Backend served by a remote ctxpack server.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ backend.Backend = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests. A non-positive limit disables it.
func WithRateLimit(limit float64, burst int) ClientOption {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be http(s)://host[:port], got %q", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a 2xx JSON body into out (if non-nil).
// Transport failures become CodeUnavailable; error bodies are decoded by
// decodeError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return backend.NewError(backend.CodeUnavailable, "rate limiter").WithCause(err)
		}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return backend.NewError(backend.CodeInvalidRequest, "encode request").WithCause(err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return backend.NewError(backend.CodeInvalidRequest, "build request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return backend.NewError(backend.CodeUnavailable, "%s %s", method, path).WithCause(err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode >= 300 {
		var er ErrorResponse
		_ = json.NewDecoder(limited).Decode(&er)
		return decodeError(resp.StatusCode, er)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return backend.NewError(backend.CodeMalformed, "decode %s response", path).WithCause(err)
	}
	return nil
}

func contextPath(id string) (string, error) {
	if id == "" {
		return "", backend.NewError(backend.CodeInvalidRequest, "context id is required")
	}
	return "/api/v1/contexts/" + url.PathEscape(id), nil
}

// BuildContext implements backend.Backend.
func (c *Client) BuildContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.ContextSummary, error) {
	var sum backend.ContextSummary
	req := BuildContextRequest{ProjectPath: projectPath, Paths: paths, Options: opts}
	if err := c.do(ctx, http.MethodPost, "/api/v1/contexts", nil, req, &sum); err != nil {
		return nil, err
	}
	if sum.ID == "" {
		return nil, backend.NewError(backend.CodeMalformed, "build response has no context id")
	}
	return &sum, nil
}

// CreateStreamingContext implements backend.Backend.
func (c *Client) CreateStreamingContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.StreamingContext, error) {
	var sc backend.StreamingContext
	req := BuildContextRequest{ProjectPath: projectPath, Paths: paths, Options: opts}
	if err := c.do(ctx, http.MethodPost, "/api/v1/contexts/stream", nil, req, &sc); err != nil {
		return nil, err
	}
	if sc.ID == "" {
		return nil, backend.NewError(backend.CodeMalformed, "stream response has no context id")
	}
	return &sc, nil
}

// GetContextContent implements backend.Backend.
func (c *Client) GetContextContent(ctx context.Context, id string, req backend.ChunkRequest) (*backend.ContextChunk, error) {
	path, err := contextPath(id)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("start", strconv.Itoa(req.StartLine))
	if req.LineCount > 0 {
		q.Set("count", strconv.Itoa(req.LineCount))
	}
	var chunk backend.ContextChunk
	if err := c.do(ctx, http.MethodGet, path+"/content", q, nil, &chunk); err != nil {
		return nil, errWithContextID(err, id)
	}
	return &chunk, nil
}

// DeleteContext implements backend.Backend.
func (c *Client) DeleteContext(ctx context.Context, id string) error {
	path, err := contextPath(id)
	if err != nil {
		return err
	}
	return errWithContextID(c.do(ctx, http.MethodDelete, path, nil, nil, nil), id)
}

// GetContextSummary implements backend.Backend.
func (c *Client) GetContextSummary(ctx context.Context, id string) (*backend.ContextSummary, error) {
	path, err := contextPath(id)
	if err != nil {
		return nil, err
	}
	var sum backend.ContextSummary
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &sum); err != nil {
		return nil, errWithContextID(err, id)
	}
	return &sum, nil
}

// ListContexts implements backend.Backend.
func (c *Client) ListContexts(ctx context.Context, projectPath string) ([]*backend.ContextSummary, error) {
	q := url.Values{}
	if projectPath != "" {
		q.Set("project", projectPath)
	}
	var resp ListContextsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/contexts", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contexts, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	var h HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return err
	}
	if h.Status != "ok" {
		return backend.NewError(backend.CodeUnavailable, "server reports %q", h.Status)
	}
	return nil
}

func errWithContextID(err error, id string) error {
	var be *backend.Error
	if errors.As(err, &be) && be.ContextID == "" {
		be.ContextID = id
	}
	return err
}
