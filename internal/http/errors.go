package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxpack/internal/assembly"
	"github.com/fyrsmithlabs/ctxpack/internal/backend"
	"github.com/fyrsmithlabs/ctxpack/internal/logging"
	"github.com/fyrsmithlabs/ctxpack/internal/selection"
)

// Error codes for failures that have no backend.Code.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBuildInProgress  = "BUILD_IN_PROGRESS"
	CodeNoContext        = "NO_CONTEXT"
	CodeStaleReference   = "STALE_REFERENCE"
	CodeTimeout          = "TIMEOUT"
	CodeBackendFault     = "BACKEND_FAULT"
	CodeStaleNode        = "STALE_NODE"
	CodeRejected         = "REJECTED"
	CodeNoWorkspace      = "NO_WORKSPACE"
	CodeRateLimited      = "RATE_LIMITED"
)

// ErrNoWorkspace is returned by workspace routes when the server was started
// without a project.
var ErrNoWorkspace = errors.New("server has no open project")

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code       string                     `json:"code"`
	Message    string                     `json:"message"`
	ContextID  string                     `json:"contextId,omitempty"`
	Recovered  bool                       `json:"recovered,omitempty"`
	Validation *assembly.ValidationResult `json:"validation,omitempty"`
}

var backendStatus = map[backend.Code]int{
	backend.CodeNotFound:       http.StatusNotFound,
	backend.CodeCorrupted:      http.StatusBadGateway,
	backend.CodeMalformed:      http.StatusBadGateway,
	backend.CodeLimitExceeded:  http.StatusRequestEntityTooLarge,
	backend.CodeInvalidRequest: http.StatusBadRequest,
	backend.CodeUnavailable:    http.StatusServiceUnavailable,
	backend.CodeInternal:       http.StatusInternalServerError,
}

// toResponse maps err to a status and body. Pipeline errors are checked
// before backend errors because several of them wrap a *backend.Error.
func toResponse(err error) (int, ErrorResponse) {
	var (
		he    *echo.HTTPError
		verr  *assembly.ValidationError
		bserr *assembly.BackendServiceError
		stale *assembly.StaleReferenceError
		berr  *backend.Error
	)
	switch {
	case errors.As(err, &verr):
		res := verr.Result
		return http.StatusUnprocessableEntity, ErrorResponse{Code: CodeValidationFailed, Message: err.Error(), Validation: &res}
	case errors.As(err, &stale):
		return http.StatusGone, ErrorResponse{Code: CodeStaleReference, Message: err.Error(), ContextID: stale.ContextID}
	case errors.As(err, &bserr):
		return http.StatusBadGateway, ErrorResponse{Code: CodeBackendFault, Message: err.Error(), Recovered: bserr.Recovered}
	case errors.Is(err, assembly.ErrTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Code: CodeTimeout, Message: err.Error()}
	case errors.Is(err, assembly.ErrBuildInProgress):
		return http.StatusConflict, ErrorResponse{Code: CodeBuildInProgress, Message: err.Error()}
	case errors.Is(err, assembly.ErrNoContext):
		return http.StatusNotFound, ErrorResponse{Code: CodeNoContext, Message: err.Error()}
	case errors.Is(err, assembly.ErrBuildSuperseded):
		return http.StatusConflict, ErrorResponse{Code: CodeBuildInProgress, Message: err.Error()}
	case errors.Is(err, selection.ErrStaleNode):
		return http.StatusNotFound, ErrorResponse{Code: CodeStaleNode, Message: err.Error()}
	case errors.Is(err, selection.ErrIgnored), errors.Is(err, selection.ErrBinary),
		errors.Is(err, selection.ErrNotAFile), errors.Is(err, selection.ErrNotADirectory):
		return http.StatusBadRequest, ErrorResponse{Code: CodeRejected, Message: err.Error()}
	case errors.Is(err, ErrNoWorkspace):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeNoWorkspace, Message: err.Error()}
	case errors.As(err, &berr):
		status, ok := backendStatus[berr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, ErrorResponse{Code: string(berr.Code), Message: berr.Message, ContextID: berr.ContextID}
	case errors.As(err, &he):
		return he.Code, ErrorResponse{Code: codeForStatus(he.Code), Message: fmt.Sprint(he.Message)}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: string(backend.CodeInternal), Message: err.Error()}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return string(backend.CodeNotFound)
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusServiceUnavailable:
		return string(backend.CodeUnavailable)
	}
	if status >= 400 && status < 500 {
		return string(backend.CodeInvalidRequest)
	}
	return string(backend.CodeInternal)
}

// errorHandler writes ErrorResponse bodies and logs server faults.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ctx := c.Request().Context()
	log := logging.FromContext(ctx)
	status, body := toResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request failed",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Warn(ctx, "writing error response", zap.Error(err))
	}
}

// decodeError rebuilds a typed error from a response. Backend codes become
// *backend.Error so callers can use backend.IsNotFound and friends.
func decodeError(status int, body ErrorResponse) error {
	code := backend.Code(body.Code)
	if _, ok := backendStatus[code]; ok {
		e := backend.NewError(code, "%s", body.Message)
		e.ContextID = body.ContextID
		return e
	}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return backend.NewError(backend.CodeNotFound, "%s", msg)
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return backend.NewError(backend.CodeUnavailable, "%s", msg)
	case status == http.StatusRequestEntityTooLarge:
		return backend.NewError(backend.CodeLimitExceeded, "%s", msg)
	case status >= 400 && status < 500:
		return backend.NewError(backend.CodeInvalidRequest, "%s", msg)
	}
	return backend.NewError(backend.CodeInternal, "%s (status %d)", msg, status)
}
