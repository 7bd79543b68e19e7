package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// TransportError is a network-level failure: connection refused, timeout,
// or a non-2xx status without a parseable protocol error. Transport errors
// are retryable within the client's retry budget.
type TransportError struct {
	Category   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error (%s, http %d): %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Category, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed error envelope returned by the remote
// service. It is terminal: the request was understood and rejected, so
// retrying it cannot succeed.
type ProtocolError struct {
	Code    int
	Message string
	Data    any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d (%s): %s", e.Code, e.Category(), e.Message)
}

// Category maps the protocol error code to a human-readable class so
// operators can diagnose failures without reading the remote service's logs.
func (e *ProtocolError) Category() string {
	switch e.Code {
	case models.CodeParseError:
		return "parse error"
	case models.CodeInvalidRequest:
		return "invalid request"
	case models.CodeMethodNotFound:
		return "method not found"
	case models.CodeInvalidParams:
		return "invalid params"
	case models.CodeInternalError:
		return "internal error"
	case models.CodeResourceNotFound:
		return "resource not found"
	case models.CodeToolNotFound:
		return "tool not found"
	case models.CodePromptNotFound:
		return "prompt not found"
	default:
		return "unknown error"
	}
}

// httpCategory maps an HTTP status code to a human-readable class.
func httpCategory(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "auth"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusMethodNotAllowed:
		return "method not allowed"
	case http.StatusRequestTimeout:
		return "timeout"
	case http.StatusTooManyRequests:
		return "rate limited"
	case http.StatusInternalServerError:
		return "server error"
	case http.StatusBadGateway:
		return "bad gateway"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusGatewayTimeout:
		return "gateway timeout"
	default:
		if status >= 500 {
			return "server error"
		}
		return "bad request"
	}
}

// IsRetryable reports whether the error is a transient transport failure.
// Protocol errors are never retryable.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	return true
}

// transportErr wraps a raw send failure into a classified TransportError.
func transportErr(err error) *TransportError {
	category := "unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		category = "timeout"
	}
	return &TransportError{Category: category, Err: err}
}
