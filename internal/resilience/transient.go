package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"google.golang.org/api/googleapi"
)

// StatusError carries the HTTP status of a failed upstream call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError wraps err with the status code of the response that caused it.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{StatusCode: code, Err: err}
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err is a retryable failure: a transient HTTP
// status from an upstream or GCS, a network timeout, or a dropped
// connection. Context cancellation and deadline expiry are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return TransientStatus(se.StatusCode)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return TransientStatus(gerr.Code)
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
