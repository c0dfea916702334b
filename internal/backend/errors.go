package backend

import (
	"errors"
	"fmt"
)

// Code classifies a backend failure.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeCorrupted      Code = "CORRUPTED"
	CodeMalformed      Code = "MALFORMED"
	CodeLimitExceeded  Code = "LIMIT_EXCEEDED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeUnavailable    Code = "UNAVAILABLE"
	CodeInternal       Code = "INTERNAL"
)

// Error is the typed error every backend returns.
type Error struct {
	Code      Code
	Message   string
	ContextID string
	Cause     error
}

// NewError creates a coded error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithContextID attaches the context the error relates to.
func (e *Error) WithContextID(id string) *Error {
	e.ContextID = id
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.ContextID != "" {
		msg += " (context " + e.ContextID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsNotFound reports whether err means the context does not exist.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsServiceFault reports whether the backend produced a corrupted or
// malformed result, as opposed to rejecting the request.
func IsServiceFault(err error) bool {
	switch CodeOf(err) {
	case CodeCorrupted, CodeMalformed:
		return true
	}
	return false
}
