// Package gqlerr defines the error vocabulary of the request pipeline:
// GraphQL response errors with machine-readable codes, plus the transport
// status signal that bypasses the normal response envelope.
package gqlerr

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Machine-readable codes carried in extensions.code.
const (
	CodeBadRequest               = "BAD_REQUEST"
	CodeParseFailed              = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed         = "GRAPHQL_VALIDATION_FAILED"
	CodeOperationResolution      = "OPERATION_RESOLUTION_FAILURE"
	CodePersistedQueryNotFound   = "PERSISTED_QUERY_NOT_FOUND"
	CodePersistedQueryNotSupport = "PERSISTED_QUERY_NOT_SUPPORTED"
	CodeInternal                 = "INTERNAL_SERVER_ERROR"
)

// Location is a position in the query source.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Error is a single GraphQL response error. Status, when non-zero, marks the
// error as a transport signal: the pipeline reports it to observers and then
// returns it to the transport instead of folding it into a response body.
type Error struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`

	Status int `json:"-"`

	cause error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Code returns extensions.code, or "" when unset.
func (e *Error) Code() string {
	c, _ := e.Extensions["code"].(string)
	return c
}

// WithPath returns a shallow copy of e located at path.
func (e *Error) WithPath(path []any) *Error {
	c := *e
	c.Path = path
	return &c
}

// New creates an error with the given code.
func New(code, message string) *Error {
	return &Error{Message: message, Extensions: map[string]any{"code": code}}
}

// Newf creates an error with the given code and a formatted message.
func Newf(code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// MissingQuery: the request carried neither query text nor a persisted-query
// reference. Transport-mappable to 400.
func MissingQuery() *Error {
	e := New(CodeBadRequest, "request must contain a query or a persistedQuery extension")
	e.Status = 400
	return e
}

func PersistedQueriesNotSupported() *Error {
	return New(CodePersistedQueryNotSupport, "PersistedQueryNotSupported")
}

func UnsupportedPersistedQueryVersion(version int) *Error {
	return Newf(CodeBadRequest, "unsupported persisted query version %d", version)
}

// PersistedQueryNotFound tells the client to retry with full query text.
func PersistedQueryNotFound() *Error {
	return New(CodePersistedQueryNotFound, "PersistedQueryNotFound")
}

func PersistedQueryMismatch() *Error {
	return New(CodeBadRequest, "provided sha does not match query")
}

// Syntax converts a parse failure into a located response error.
func Syntax(err error) *Error {
	return fromEngine(err, CodeParseFailed)
}

// Validation converts engine validation failures into response errors.
func Validation(list gqlerror.List) []*Error {
	out := make([]*Error, 0, len(list))
	for _, ge := range list {
		out = append(out, fromEngine(ge, CodeValidationFailed))
	}
	return out
}

func OperationResolution(message string) *Error {
	return New(CodeOperationResolution, message)
}

// Internal wraps an arbitrary engine or resolver error without re-typing it.
// The cause stays reachable through errors.Unwrap for debug formatting.
func Internal(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Message:    err.Error(),
		Extensions: map[string]any{"code": CodeInternal},
		cause:      err,
	}
}

func fromEngine(err error, code string) *Error {
	var ge *gqlerror.Error
	if !errors.As(err, &ge) {
		return &Error{Message: err.Error(), Extensions: map[string]any{"code": code}, cause: err}
	}
	e := &Error{Message: ge.Message, Extensions: map[string]any{"code": code}, cause: err}
	for _, loc := range ge.Locations {
		e.Locations = append(e.Locations, Location{Line: loc.Line, Column: loc.Column})
	}
	return e
}

// TransportError is returned (not responded) by the pipeline so the transport
// layer can translate it into protocol behavior such as a non-200 status.
type TransportError struct {
	StatusCode int
	Err        *Error
}

func (t *TransportError) Error() string { return t.Err.Message }

func (t *TransportError) Unwrap() error { return t.Err }

// AsTransport extracts the transport signal from an error list. The first
// error carrying a status wins.
func AsTransport(errs []*Error) *TransportError {
	for _, e := range errs {
		if e.Status != 0 {
			return &TransportError{StatusCode: e.Status, Err: e}
		}
	}
	return nil
}
