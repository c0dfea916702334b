package assembly

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// Sentinels matched by the typed errors below.
var (
	ErrValidation     = errors.New("selection failed validation")
	ErrBackendService = errors.New("context backend fault")
	ErrTimeout        = errors.New("build timed out")
	ErrStaleReference = errors.New("context no longer exists")
)

// Pipeline state errors.
var (
	ErrBuildInProgress   = errors.New("a build is already in progress")
	ErrNoContext         = errors.New("no context has been built")
	ErrBuildSuperseded   = errors.New("build was superseded")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError carries the failed validation result. The build was never
// attempted.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Result.Errors, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// BackendServiceError reports a structural backend fault. Recovered is true
// when a minimized single-file request succeeded, meaning the selection
// rather than the backend is at fault.
type BackendServiceError struct {
	Code      backend.Code
	Recovered bool
	Cause     error
}

func (e *BackendServiceError) Error() string {
	var msg string
	if e.Recovered {
		msg = fmt.Sprintf("backend rejected this selection (%s); a single-file build succeeded, so try building fewer files", e.Code)
	} else {
		msg = fmt.Sprintf("backend is unusable (%s); a minimized retry also failed", e.Code)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BackendServiceError) Unwrap() error { return e.Cause }

func (e *BackendServiceError) Is(target error) bool { return target == ErrBackendService }

// TimeoutError reports a build that exceeded the wall-clock limit.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("build did not finish within %s; rebuild to try again", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StaleReferenceError reports that the current context vanished on the
// backend. Local state has been cleared.
type StaleReferenceError struct {
	ContextID string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("context %s no longer exists; rebuild required", e.ContextID)
}

func (e *StaleReferenceError) Is(target error) bool { return target == ErrStaleReference }
