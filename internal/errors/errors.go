// Package errors provides the error taxonomy for the reporting pipeline.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout     = errors.New("operation timed out")
	ErrUnavailable = errors.New("service unavailable")

	// ErrInProgress is returned when token verification was accepted but is not finished yet.
	ErrInProgress = errors.New("token verification in progress")

	// ErrTokenExpired is the 401 answer of the verification endpoint.
	ErrTokenExpired = errors.New("device token rejected as expired")

	ErrAttestationNotSupported = errors.New("device attestation not supported")
	ErrAttestationFailed       = errors.New("device attestation failed")
	ErrAttestationUnknown      = errors.New("device attestation unknown error")

	ErrCycleInFlight = errors.New("reporting cycle already in flight")
)

// APIError represents an error from a remote endpoint.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// transientError marks an arbitrary error as worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsRetryable reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable returns true if the error is transient and worth retrying.
// Expired tokens and attestation failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTerminal(err) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInProgress)
}

// IsTerminal reports errors that must short-circuit any retry loop.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrAttestationNotSupported) ||
		errors.Is(err, ErrAttestationFailed) ||
		errors.Is(err, ErrAttestationUnknown)
}
