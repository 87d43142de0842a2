package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind categorizes an execution failure. The executor retries only
// transient and timeout errors; auth, bad_request and canceled are
// surfaced as-is.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindAuth       ErrorKind = "auth"
	KindBadRequest ErrorKind = "bad_request"
	KindTransient  ErrorKind = "transient"
	KindCanceled   ErrorKind = "canceled"
)

// ExecutionError wraps an engine failure with its kind.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err with an explicit kind.
func NewExecutionError(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// AsExecutionError extracts an *ExecutionError from err, classifying the
// error first if it is not one already.
func AsExecutionError(err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{Kind: classify(err), Err: err}
}

// classify maps an arbitrary error to an ErrorKind.
func classify(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "invalid credentials"):
		return KindAuth
	case strings.Contains(msg, "bad request") || strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "invalid query"):
		return KindBadRequest
	default:
		return KindTransient
	}
}

// kindFromStatus maps an HTTP status code to an ErrorKind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindTransient
	}
}
